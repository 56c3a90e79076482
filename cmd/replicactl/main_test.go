package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/replica/internal/protocol/session"
	"github.com/danmuck/replica/internal/replication"
	"github.com/danmuck/replica/internal/testutil/testlog"
	"github.com/danmuck/replica/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAuthority accepts one connection and runs script against it.
func scriptedAuthority(t *testing.T, script func(*transport.Stream) error) (string, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		s := transport.NewStream(conn, transport.StreamOptions{})
		defer s.Close()
		done <- script(s)
	}()
	return ln.Addr().String(), done
}

func expect(s *transport.Stream, kind session.Kind) (session.Message, error) {
	msg, err := s.Receive()
	if err != nil {
		return session.Message{}, err
	}
	if msg.Kind != kind {
		return msg, fmt.Errorf("expected %s, got %s", kind, msg.Kind)
	}
	return msg, nil
}

func writeConfig(t *testing.T, addr string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.toml")
	content := fmt.Sprintf("address = %q\nmax_connect_attempts = 1\n", addr)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSubmitPrintsAssignedSequence(t *testing.T) {
	testlog.Start(t)
	ts := time.Unix(1700000000, 0).UTC()
	addr, served := scriptedAuthority(t, func(s *transport.Stream) error {
		hs, err := expect(s, session.KindHandshake)
		if err != nil {
			return err
		}
		if hs.StartingSequence != 0 {
			return fmt.Errorf("unexpected starting sequence %d", hs.StartingSequence)
		}
		if err := s.Send(context.Background(), session.CaughtUp()); err != nil {
			return err
		}
		if _, err := expect(s, session.KindSubmission); err != nil {
			return err
		}
		return s.Send(context.Background(), session.Echo(ts, 9))
	})

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"submit", "--config", writeConfig(t, addr), "--payload", "credit alice 10"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "sequence=9 timestamp=2023-11-14T22:13:20Z\n", out.String())
	require.NoError(t, <-served)
}

func TestSubmitRequiresPayload(t *testing.T) {
	testlog.Start(t)
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"submit"})
	assert.Error(t, cmd.Execute())
}

func TestSubmitReportsServerError(t *testing.T) {
	testlog.Start(t)
	addr, served := scriptedAuthority(t, func(s *transport.Stream) error {
		if _, err := expect(s, session.KindHandshake); err != nil {
			return err
		}
		if err := s.Send(context.Background(), session.CaughtUp()); err != nil {
			return err
		}
		if _, err := expect(s, session.KindSubmission); err != nil {
			return err
		}
		return s.Send(context.Background(), session.ErrorReport(session.ErrorRecoverable, "insufficient funds"))
	})

	err := runSubmit(context.Background(), &submitOptions{
		rootOptions: &rootOptions{ConfigPath: writeConfig(t, addr)},
		Payload:     "debit bob 1000",
		Timeout:     5 * time.Second,
	}, &bytes.Buffer{})
	assert.ErrorIs(t, err, replication.ErrServerRecoverable)
	require.NoError(t, <-served)
}

func TestTailStopsWhenAuthorityDisconnects(t *testing.T) {
	testlog.Start(t)
	addr, served := scriptedAuthority(t, func(s *transport.Stream) error {
		hs, err := expect(s, session.KindHandshake)
		if err != nil {
			return err
		}
		if hs.StartingSequence != 40 {
			return fmt.Errorf("unexpected starting sequence %d", hs.StartingSequence)
		}
		return s.Send(context.Background(), session.CaughtUp())
	})

	err := runTail(context.Background(), &tailOptions{
		rootOptions: &rootOptions{ConfigPath: writeConfig(t, addr)},
		From:        40,
		FromSet:     true,
	})
	assert.True(t, errors.Is(err, replication.ErrConnectionLost), "got %v", err)
	require.NoError(t, <-served)
}

func TestTailDeliversBeforeDisconnect(t *testing.T) {
	testlog.Start(t)
	addr, served := scriptedAuthority(t, func(s *transport.Stream) error {
		if _, err := expect(s, session.KindHandshake); err != nil {
			return err
		}
		msgs := []session.Message{
			session.Foreign([]byte{0xa3, 'o', 'n', 'e'}, time.Unix(1, 0), 1),
			session.CaughtUp(),
			session.Heartbeat(time.Unix(2, 0)),
			session.Foreign([]byte{0xa3, 't', 'w', 'o'}, time.Unix(3, 0), 2),
		}
		for _, msg := range msgs {
			if err := s.Send(context.Background(), msg); err != nil {
				return err
			}
		}
		return nil
	})

	err := runTail(context.Background(), &tailOptions{
		rootOptions: &rootOptions{ConfigPath: writeConfig(t, addr)},
	})
	assert.ErrorIs(t, err, replication.ErrConnectionLost)
	require.NoError(t, <-served)
}

func TestTailRejectsUnknownTransport(t *testing.T) {
	testlog.Start(t)
	t.Setenv("REPLICA_TRANSPORT", "carrier-pigeon")
	err := runTail(context.Background(), &tailOptions{rootOptions: &rootOptions{}})
	assert.Error(t, err)
}
