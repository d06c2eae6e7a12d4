// Package telegrambot implements the operator command surface, with
// per-pet and per-device commands enumerated against the flap controller
// at startup.
package telegrambot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dieriver/balrog-go/internal/aggregator"
	"github.com/dieriver/balrog-go/internal/flap"
	"github.com/dieriver/balrog-go/internal/janitor"
	"github.com/dieriver/balrog-go/internal/sender"
	"github.com/dieriver/balrog-go/internal/servicelog"
)

// Bot wires the chat transport to the flap controller, the sender's
// diagnostic slots, the aggregator's clean-queue signal and the janitor.
type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	sender sender.Sender
	flap   *flap.Controller
	agg    *aggregator.Aggregator
	clean  *janitor.Janitor
	logger servicelog.Logger

	letInSeconds int
	requestStop  func()

	pets    map[string]string
	devices map[string]string
}

// New enumerates pets/devices once at startup and builds the bot.
func New(ctx context.Context, api *tgbotapi.BotAPI, chatID int64, s sender.Sender, f *flap.Controller, agg *aggregator.Aggregator, clean *janitor.Janitor, letInSeconds int, requestStop func(), logger servicelog.Logger) (*Bot, error) {
	pets, err := f.GetPets(ctx)
	if err != nil {
		logger.Error("bot: failed to enumerate pets", servicelog.Error(err))
		pets = map[string]string{}
	}
	devices, err := f.GetDevices(ctx)
	if err != nil {
		logger.Error("bot: failed to enumerate devices", servicelog.Error(err))
		devices = map[string]string{}
	}
	return &Bot{
		api: api, chatID: chatID, sender: s, flap: f, agg: agg, clean: clean,
		letInSeconds: letInSeconds, requestStop: requestStop, logger: logger,
		pets: pets, devices: devices,
	}, nil
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.dispatch(ctx, update.Message.Command())
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, cmd string) {
	switch {
	case cmd == "help":
		b.sender.SendText(helpText)
	case cmd == "clean":
		b.clean.RunNow()
		b.sender.SendText("Old log/debug files cleaned.")
	case cmd == "restart":
		b.sender.SendText("Restarting.")
		b.requestStop()
	case cmd == "nodestatus":
		b.sender.SendText(b.nodeStatus())
	case cmd == "sendlivepic":
		b.sender.SendImage(b.sender.LiveImage(), "Live image", true)
	case cmd == "sendlastcascpic":
		b.sender.SendImage(b.sender.LastCascadeImage(), "Last cascade image", true)
	case cmd == "letin":
		if err := b.flap.UnlockFor(ctx, b.letInSeconds); err != nil {
			b.sender.SendText("Failed to unlock: " + err.Error())
			return
		}
		b.agg.RaiseCleanQueue()
		b.sender.SendText("Unlocked, event queue cleared.")
	case cmd == "lock":
		b.setLock(ctx, flap.LockedAll)
	case cmd == "lockin":
		b.setLock(ctx, flap.LockedIn)
	case cmd == "lockout":
		b.setLock(ctx, flap.LockedOut)
	case cmd == "unlock":
		b.setLock(ctx, flap.Unlocked)
	case cmd == "curfew":
		b.setLock(ctx, flap.Curfew)
	case cmd == "mute":
		b.sender.Mute(10 * time.Minute)
		b.sender.SendText("Images muted for 10 minutes.")
	case cmd == "statusPets":
		b.sender.SendText(b.statusPets(ctx))
	case strings.HasPrefix(cmd, "switch"):
		b.switchPet(ctx, strings.TrimPrefix(cmd, "switch"))
	case strings.HasPrefix(cmd, "status"):
		b.statusDevice(ctx, strings.TrimPrefix(cmd, "status"))
	default:
		b.sender.SendText("Unknown command. Use /help.")
	}
}

// nodeStatus renders queue_length/overhead_seconds plus the last few
// retained verdicts, so an operator can see both live pressure and recent
// history in one reply.
func (b *Bot) nodeStatus() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "queue_length=%d overhead_seconds=%.3f\n", b.sender.QueueLength(), b.sender.OverheadSeconds())
	recent := b.agg.History().Recent()
	if len(recent) == 0 {
		sb.WriteString("no verdicts yet")
		return sb.String()
	}
	start := 0
	if len(recent) > 5 {
		start = len(recent) - 5
	}
	sb.WriteString("recent verdicts:\n")
	for _, v := range recent[start:] {
		fmt.Fprintf(&sb, "- %s %s avg=%.2f\n", v.Timestamp.Format(time.RFC3339), v.Kind, v.Average)
	}
	return sb.String()
}

func (b *Bot) setLock(ctx context.Context, state flap.LockState) {
	if err := b.flap.SetLockState(ctx, state); err != nil {
		b.sender.SendText("Failed to set lock state: " + err.Error())
		return
	}
	b.sender.SendText("Lock state updated.")
}

func (b *Bot) switchPet(ctx context.Context, name string) {
	id, ok := b.pets[name]
	if !ok {
		b.sender.SendText("Unknown pet: " + name)
		return
	}
	if err := b.flap.SwitchPetLocation(ctx, id); err != nil {
		b.sender.SendText("Failed to switch pet location: " + err.Error())
		return
	}
	b.sender.SendText(name + "'s location switched.")
}

func (b *Bot) statusDevice(ctx context.Context, name string) {
	if _, ok := b.devices[name]; !ok {
		b.sender.SendText("Unknown device: " + name)
		return
	}
	state := b.flap.GetLockState(ctx)
	b.sender.SendText(fmt.Sprintf("%s lock state: %d", name, state))
}

func (b *Bot) statusPets(ctx context.Context) string {
	var sb strings.Builder
	for name := range b.pets {
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	return sb.String()
}

const helpText = `Commands: help, clean, restart, nodestatus, sendlivepic, sendlastcascpic, letin, lock, lockin, lockout, unlock, curfew, mute, statusPets, switch<Pet>, status<Device>`
