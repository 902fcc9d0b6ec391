package main

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"objlink/internal/linker"
	"objlink/internal/ui"
)

type linkOutcome struct {
	results []linker.Result
	err     error
}

// runLinkWithUI runs link while the progress view reads events. link must
// be the only producer on events; the channel is closed when it returns.
func runLinkWithUI(out io.Writer, title string, units []string, events chan linker.Event, link func() ([]linker.Result, error)) ([]linker.Result, error) {
	outcomeCh := make(chan linkOutcome, 1)
	go func() {
		res, err := link()
		close(events)
		outcomeCh <- linkOutcome{results: res, err: err}
	}()

	model := ui.NewProgressModel(title, units, events)
	program := tea.NewProgram(model, tea.WithOutput(out), tea.WithInput(nil))
	_, uiErr := program.Run()
	if uiErr != nil {
		// Keep the session from blocking on a full channel.
		go func() {
			for range events {
			}
		}()
	}
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, fmt.Errorf("progress view: %w", uiErr)
	}
	return outcome.results, outcome.err
}
