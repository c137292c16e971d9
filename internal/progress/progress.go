// Package progress prints the process startup banner, grounded on
// common/src/progress.rs's Progress/Step types.
package progress

import "fmt"

const (
	emojiSetup      = "🔧"
	emojiMigrations = "📦"
	emojiNetworks   = "🌐"
	emojiReady      = "🚀"
)

// Step identifies one line of the startup banner, mirroring progress.rs's
// Step enum.
type Step int

const (
	StepSetup Step = iota
	StepMigrations
	StepNetworks
	StepReady
)

// ReadyKind selects the final "Ready" line's status text, mirroring
// progress.rs's ReadyType.
type ReadyKind int

const (
	ReadyAll ReadyKind = iota
	ReadyServer
	ReadyIndexer
)

// Progress prints the 3- or 4-step startup banner depending on whether the
// indexer is running alongside the HTTP server.
type Progress struct {
	withIndexer bool
}

func New(withIndexer bool) Progress {
	return Progress{withIndexer: withIndexer}
}

func (p Progress) totalSteps() int {
	if p.withIndexer {
		return 4
	}
	return 3
}

func (p Progress) line(step int, emoji, text string) {
	fmt.Printf("[%d/%d] %s%s\n", step, p.totalSteps(), emoji, text)
}

func (p Progress) status(text string) {
	fmt.Printf("          ↳ %s\n", text)
}

// Show prints one banner line. addr is only used for StepReady with
// ReadyAll/ReadyServer. warnings are logged via the caller's logger.
func (p Progress) Show(step Step, kind ReadyKind, addr string) {
	switch step {
	case StepSetup:
		p.line(1, emojiSetup, "Initializing…")
	case StepMigrations:
		p.line(2, emojiMigrations, "Running migrations…")
	case StepNetworks:
		p.line(3, emojiNetworks, "Connecting to networks…")
	case StepReady:
		p.line(p.totalSteps(), emojiReady, "Starting up…")
		switch kind {
		case ReadyAll:
			p.status("Indexer enabled")
			p.status(fmt.Sprintf("Listening on %s…\n", addr))
		case ReadyServer:
			p.status("Indexer disabled")
			p.status(fmt.Sprintf("Listening on %s…\n", addr))
		case ReadyIndexer:
			p.status("Indexer enabled")
			p.status("Server disabled\n")
		}
	}
}
