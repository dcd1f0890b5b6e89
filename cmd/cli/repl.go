package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/render"
	"github.com/satriahrh/bmschat/usecase"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	userStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const helpText = `Commands:
  /devices          list devices
  /device <id>      scope queries to a device (no id clears it)
  /history          show the conversation
  /logout           forget the stored login
  /quit             leave
Anything else is sent as a query. Ctrl+C while waiting cancels the request.`

// repl is the terminal conversation of one login session
type repl struct {
	chat     *usecase.ChatService
	renderer *render.TerminalRenderer
	out      io.Writer

	sessionID string
	user      string
	deviceID  string
}

func newREPL(chat *usecase.ChatService, renderer *render.TerminalRenderer, out io.Writer) *repl {
	return &repl{chat: chat, renderer: renderer, out: out}
}

func (r *repl) loggedIn() bool {
	return r.sessionID != ""
}

func (r *repl) prompt() string {
	if r.deviceID != "" {
		return promptStyle.Render(fmt.Sprintf("bms[%s]> ", r.deviceID))
	}
	return promptStyle.Render("bms> ")
}

func (r *repl) login(ctx context.Context, email, password string) error {
	conv, err := r.chat.Login(ctx, email, password)
	if err != nil {
		return err
	}
	r.sessionID, r.user, r.deviceID = conv.ID, conv.User, ""
	fmt.Fprintf(r.out, "Logged in as %s. Type /help for commands.\n", conv.User)
	return nil
}

// resume continues a session whose tokens were stored by an earlier run
func (r *repl) resume(ctx context.Context, sessionID, user string) error {
	conv, err := r.chat.Resume(ctx, sessionID, user)
	if err != nil {
		return err
	}
	r.sessionID, r.user, r.deviceID = conv.ID, conv.User, conv.DeviceID
	fmt.Fprintf(r.out, "Welcome back, %s.\n", conv.User)
	return nil
}

func (r *repl) handle(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	if !strings.HasPrefix(input, "/") {
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return errQuit
		}
		return r.query(ctx, input)
	}

	fields := strings.Fields(input)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/quit", "/exit":
		return errQuit
	case "/logout":
		err := r.chat.Logout(ctx, r.sessionID)
		r.sessionID, r.user, r.deviceID = "", "", ""
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, "Logged out.")
	case "/devices":
		devices, err := r.chat.Devices(ctx, r.sessionID)
		if err != nil {
			return r.sessionError(err)
		}
		r.printDevices(devices)
	case "/device":
		deviceID := strings.TrimSpace(strings.TrimPrefix(input, "/device"))
		if err := r.chat.SelectDevice(ctx, r.sessionID, deviceID); err != nil {
			return r.sessionError(err)
		}
		r.deviceID = deviceID
		if deviceID == "" {
			fmt.Fprintln(r.out, "Device selection cleared.")
		} else {
			fmt.Fprintf(r.out, "Queries are now scoped to %s.\n", deviceID)
		}
	case "/history":
		conv, err := r.chat.Conversation(ctx, r.sessionID)
		if err != nil {
			return r.sessionError(err)
		}
		for _, msg := range conv.History() {
			r.printMessage(msg)
		}
	default:
		return fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	return nil
}

func (r *repl) query(ctx context.Context, query string) error {
	stop := r.cancelOnInterrupt()
	reply, err := r.chat.Send(ctx, r.sessionID, query, "")
	stop()
	if err != nil {
		return r.sessionError(err)
	}
	r.printMessage(reply.Message)
	return nil
}

// cancelOnInterrupt turns Ctrl+C into a request cancel until stop is called
func (r *repl) cancelOnInterrupt() (stop func()) {
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sig, os.Interrupt)
	go func() {
		select {
		case <-sig:
			r.chat.Cancel(r.sessionID)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

// sessionError logs out locally when the session can no longer be used
func (r *repl) sessionError(err error) error {
	if errors.Is(err, repositories.ErrSessionExpired) {
		r.sessionID, r.user, r.deviceID = "", "", ""
		fmt.Fprintln(r.out, usecase.SessionExpiredMessage)
		return nil
	}
	return err
}

func (r *repl) printMessage(msg entities.ChatMessage) {
	if msg.Role == entities.MessageRoleUser {
		fmt.Fprintln(r.out, userStyle.Render("> "+msg.Text))
		return
	}
	fmt.Fprintln(r.out, r.renderer.RenderText(msg.Text))
}

func (r *repl) printDevices(devices []entities.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(r.out, "No devices found.")
		return
	}
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{d.ID, d.Name, d.Type, d.Label})
	}
	fmt.Fprintln(r.out, r.renderer.Render(render.Document{
		Blocks: []render.Block{{
			Kind:  render.BlockTable,
			Table: &render.Table{Headers: []string{"ID", "Name", "Type", "Label"}, Rows: rows},
		}},
	}))
}
