package inputlock

import (
	"context"
	"time"

	"github.com/mazen160/go-random"
)

// KeySender emits one chunk of keystrokes to the focused input.
type KeySender func(keys string) error

// HumanType emits text one character at a time with a randomized pause
// drawn uniformly from [minDelay, maxDelay] between keystrokes, so the
// input carries no fixed-cadence typing signature. Callers hold the
// input mutex for the duration.
func HumanType(ctx context.Context, send KeySender, text string, minDelay, maxDelay time.Duration) error {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	for _, r := range text {
		if err := send(string(r)); err != nil {
			return err
		}

		delay, err := keystrokeDelay(minDelay, maxDelay)
		if err != nil {
			return err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func keystrokeDelay(minDelay, maxDelay time.Duration) (time.Duration, error) {
	if minDelay == maxDelay {
		return minDelay, nil
	}
	ms, err := random.IntRange(int(minDelay.Milliseconds()), int(maxDelay.Milliseconds())+1)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
