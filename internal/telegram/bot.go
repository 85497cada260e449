package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/crew"
	"github.com/mtzanidakis/warroom/internal/incident"
	"github.com/mtzanidakis/warroom/internal/notify"
	"github.com/mtzanidakis/warroom/internal/topology"
)

// Runner executes incident runs. *incident.Service satisfies it.
type Runner interface {
	Execute(ctx context.Context, req incident.Request) (*crew.RunResult, error)
	DefaultFlags() topology.Flags
}

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	runner  Runner
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, r Runner) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{bot: bot, runner: r, cfg: cfg}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

// SetMainChat changes where drill reports go.
func (b *Bot) SetMainChat(id int64) {
	b.cfg.MainChatID = id
}

// Notify sends a report to the main chat. It is a no-op without one.
func (b *Bot) Notify(ctx context.Context, r notify.Report) error {
	if b.cfg.MainChatID == 0 {
		return nil
	}
	return b.SendMessage(ctx, b.cfg.MainChatID, r.Text())
}

func (b *Bot) allowed(userID int64) bool {
	return len(b.cfg.AllowFrom) == 0 || slices.Contains(b.cfg.AllowFrom, userID)
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	if !b.allowed(msg.From.ID) {
		slog.Warn("unauthorized telegram user", "user_id", msg.From.ID, "chat_id", chatID)
		return
	}

	cmd, ok := parseCommand(msg.Text, b.runner.DefaultFlags())
	if !ok {
		return
	}
	if cmd.help {
		_ = b.SendMessage(ctx, chatID, helpText)
		return
	}

	req := incident.Request{
		ID:       uuid.New().String(),
		Incident: cmd.incident,
		Source:   incident.SourceTelegram,
		Flags:    cmd.flags,
	}
	_ = b.SendMessage(ctx, chatID, fmt.Sprintf("Run %s started in %s mode.", req.ID, cmd.flags.Mode()))
	_ = b.sendChatAction(ctx, chatID, "typing")

	go func() {
		res, err := b.runner.Execute(ctx, req)
		if err != nil && res == nil {
			slog.Error("telegram run failed", "run", req.ID, "error", err)
		}
		report := notify.NewReport("Incident run", res, err)
		if err := b.SendMessage(ctx, chatID, report.Text()); err != nil {
			slog.Error("failed to send telegram report", "chat", chatID, "error", err)
		}
	}()
}

const helpText = `/incident <text> - run the crew in the configured mode
/safe <text> - run sequentially without delegation or memory
/survival <text> - run the minimal triage, commander, comms path`

type command struct {
	incident string
	flags    topology.Flags
	help     bool
}

// parseCommand reads /incident, /safe and /survival. Commands addressed to
// a bot (/incident@warroom_bot) are accepted. An empty body falls back to
// the default incident.
func parseCommand(text string, defaults topology.Flags) (command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	head, body, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")
	body = strings.TrimSpace(body)
	if body == "" {
		body = incident.DefaultIncident
	}

	c := command{incident: body, flags: defaults}
	switch head {
	case "/incident":
	case "/safe":
		c.flags.SafeMode = true
	case "/survival":
		c.flags.SurvivalMode = true
	case "/help", "/start":
		c.help = true
	default:
		return command{}, false
	}
	return c, true
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, 4096) {
		if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}
