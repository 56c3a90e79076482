package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/replica/internal/capsule"
	"github.com/spf13/cobra"
)

type submitOptions struct {
	*rootOptions
	Payload string
	Timeout time.Duration
}

func newSubmitCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &submitOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one transaction and wait for the authority to apply it",
		Long: `Connect, catch up, submit a msgpack-encoded string payload and print the
sequence and timestamp the authority assigned to it.

Examples:
  replicactl submit --config replica.toml --payload "credit alice 10"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "", "transaction payload (required)")
	_ = cmd.MarkFlagRequired("payload")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}

// echoCatcher remembers the delivery that carries the submitted bytes.
type echoCatcher struct {
	want []byte

	mu  sync.Mutex
	got *capsule.TransactionTimestamp
}

func (e *echoCatcher) Receive(tt capsule.TransactionTimestamp) {
	if !bytes.Equal(tt.Capsule.Bytes(), e.want) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = &tt
}

func (e *echoCatcher) result() (capsule.TransactionTimestamp, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.got == nil {
		return capsule.TransactionTimestamp{}, false
	}
	return *e.got, true
}

func runSubmit(parent context.Context, opts *submitOptions, out io.Writer) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	tx, err := capsule.Encode(capsule.Msgpack{}, opts.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	catcher := &echoCatcher{want: tx.Bytes()}
	client, err := connect(ctx, cfg, catcher, cfg.StartingSequence)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Submit(ctx, tx); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	tt, ok := catcher.result()
	if !ok {
		return fmt.Errorf("submit: acknowledged without delivery")
	}
	fmt.Fprintf(out, "sequence=%d timestamp=%s\n", tt.Sequence, tt.Timestamp.Format(time.RFC3339Nano))
	return nil
}
