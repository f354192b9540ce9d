package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RomainAlbert/go-hislip"
)

// runOneShot executes every flag-selected action in a fixed order and
// returns once all requested actions have run. It is used for
// single-shot CLI invocations; the interactive REPL runs its commands
// through dispatchCommand instead.
func runOneShot(ctx context.Context, c *hislip.Client, cfg *appConfig, l *slog.Logger) error {
	if cfg.maxMessageSize > 0 {
		got, err := c.SetMaxMessageSize(ctx, cfg.maxMessageSize)
		if err != nil {
			return fmt.Errorf("set-max-message-size: %w", err)
		}
		fmt.Printf("max_message_size = %d\n", got)
	}
	if cfg.write != "" {
		if err := c.Write([]byte(cfg.write)); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		fmt.Println("write ok")
	}
	if cfg.ask != "" {
		resp, err := c.Ask(cfg.ask, cfg.askWaitMS)
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}
		fmt.Print(resp)
	}
	if cfg.status {
		mav, sb, err := c.StatusQuery()
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		fmt.Printf("status_byte=%#02x mav=%v\n", sb, mav)
	}
	if cfg.lockSet {
		res, err := c.RequestLock(cfg.lock)
		if err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		fmt.Printf("lock_result=%d\n", res)
	}
	if cfg.unlock {
		res, err := c.ReleaseLock()
		if err != nil {
			return fmt.Errorf("unlock: %w", err)
		}
		fmt.Printf("unlock_result=%d\n", res)
	}
	if cfg.clear {
		if err := c.DeviceClear(); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		fmt.Println("device_clear ok")
	}
	if cfg.trigger {
		if err := c.Trigger(); err != nil {
			return fmt.Errorf("trigger: %w", err)
		}
		fmt.Println("trigger ok")
	}
	if cfg.remoteLocal != -1 {
		if err := c.RemoteLocal(uint8(cfg.remoteLocal)); err != nil {
			return fmt.Errorf("remote-local: %w", err)
		}
		fmt.Println("remote_local ok")
	}
	if cfg.srqWait {
		l.Info("srq_wait_start")
		received := make(chan []byte, 1)
		c.StartSRQWait(func(payload []byte) { received <- payload })
		select {
		case payload := <-received:
			fmt.Printf("srq payload=%q\n", payload)
		case <-ctx.Done():
			return ctx.Err()
		}
		c.JoinSRQ()
	}
	return nil
}

// dispatchCommand runs a single REPL-tokenized command against an
// already-connected client.
func dispatchCommand(ctx context.Context, c *hislip.Client, args []string) error {
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "write":
		if len(args) < 2 {
			return fmt.Errorf("write: missing payload")
		}
		return c.Write([]byte(args[1]))
	case "ask":
		if len(args) < 2 {
			return fmt.Errorf("ask: missing payload")
		}
		resp, err := c.Ask(args[1], DefaultAskWaitMS)
		if err != nil {
			return err
		}
		fmt.Print(resp)
		return nil
	case "status":
		mav, sb, err := c.StatusQuery()
		if err != nil {
			return err
		}
		fmt.Printf("status_byte=%#02x mav=%v\n", sb, mav)
		return nil
	case "lock":
		lockStr := ""
		if len(args) >= 2 {
			lockStr = args[1]
		}
		res, err := c.RequestLock(lockStr)
		if err != nil {
			return err
		}
		fmt.Printf("lock_result=%d\n", res)
		return nil
	case "unlock":
		res, err := c.ReleaseLock()
		if err != nil {
			return err
		}
		fmt.Printf("unlock_result=%d\n", res)
		return nil
	case "lock-info":
		excl, shared, err := c.LockInfo()
		if err != nil {
			return err
		}
		fmt.Printf("exclusive=%v shared=%d\n", excl, shared)
		return nil
	case "clear":
		return c.DeviceClear()
	case "trigger":
		return c.Trigger()
	case "srq-wait":
		received := make(chan []byte, 1)
		c.StartSRQWait(func(payload []byte) { received <- payload })
		select {
		case payload := <-received:
			fmt.Printf("srq payload=%q\n", payload)
		case <-time.After(time.Minute):
			return fmt.Errorf("srq-wait: timed out after 1m")
		}
		c.JoinSRQ()
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// DefaultAskWaitMS mirrors hislip.DefaultAskWaitMS for REPL-driven asks
// that did not come from a parsed flag.
const DefaultAskWaitMS = hislip.DefaultAskWaitMS
