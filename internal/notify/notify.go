// Package notify dispatches desktop notifications and terminal bells when
// a countdown phase runs out naturally.
package notify

import (
	"fmt"
	"os"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"github.com/focusd/focusd/internal/config"
)

const notifyTitle = "focusd"

// Notifier announces natural phase endings. Delivery is best effort: a
// missing notification daemon must never take the timer down with it.
type Notifier struct {
	cfg config.NotifyConfig
	log zerolog.Logger
}

func New(cfg config.NotifyConfig, log zerolog.Logger) *Notifier {
	return &Notifier{cfg: cfg, log: log}
}

// Notify implements the broker's notifier hook.
func (n *Notifier) Notify(round uint64, reason string) {
	if n.cfg.Bell {
		// BEL on stderr so piped stdout stays clean.
		fmt.Fprint(os.Stderr, "\a")
	}
	if !n.cfg.ShowNotification {
		return
	}
	body := fmt.Sprintf("%s (round %d)", reason, round)
	if err := beeep.Notify(notifyTitle, body, ""); err != nil {
		n.log.Warn().Err(err).Msg("desktop notification failed")
	}
}
