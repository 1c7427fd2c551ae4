package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pf-scalp-bot/internal/alerts"
	"pf-scalp-bot/internal/state"
	"pf-scalp-bot/internal/strategy"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
	Phase        string    `json:"phase,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil || a.engine == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, _, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(ctx), nil
	case "pause":
		before := a.isPaused()
		after := a.setPaused(true)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "pause",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
			Phase:        string(a.engine.Status().Phase),
		})
		if before {
			return "entries already paused", nil
		}
		return "entries paused; an open trade keeps being managed", nil
	case "resume":
		before := a.isPaused()
		after := a.setPaused(false)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "resume",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
			Phase:        string(a.engine.Status().Phase),
		})
		if !before {
			return "entries already active", nil
		}
		return "entries resumed", nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) operatorStatus(ctx context.Context) string {
	if a.engine == nil {
		return "status unavailable"
	}
	st := a.engine.Status()
	lines := []string{
		fmt.Sprintf("symbol: %s", st.Symbol),
		fmt.Sprintf("phase: %s", st.Phase),
		fmt.Sprintf("paused: %t", st.Paused),
		fmt.Sprintf("market_ready: %t", st.MarketReady),
	}
	if st.HasMark {
		lines = append(lines, fmt.Sprintf("mark: %g", st.Mark))
	}
	if st.HasSMA {
		lines = append(lines, fmt.Sprintf("sma: %g", st.SMA))
	}
	if st.Phase != strategy.PhaseIdle {
		pos := st.Position
		lines = append(lines,
			fmt.Sprintf("position: %s %g @ %g", pos.Side, pos.Size, pos.EntryPrice),
			fmt.Sprintf("phase_since: %s", st.PhaseSince.UTC().Format(time.RFC3339)),
		)
		if !pos.OpenedAt.IsZero() {
			lines = append(lines, fmt.Sprintf("opened_at: %s", pos.OpenedAt.UTC().Format(time.RFC3339)))
		}
	}
	if last, ok, err := state.LoadLastTrade(ctx, a.store); err == nil && ok {
		lines = append(lines, fmt.Sprintf("last_trade: %s %s %s at %s", last.Kind, last.Side, last.Symbol,
			time.UnixMilli(last.AtMS).UTC().Format(time.RFC3339)))
	}
	lines = append(lines, fmt.Sprintf("evaluations: %d", st.Evaluations))
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - current bot status",
		"/pause - stop opening new trades",
		"/resume - allow new trades again",
	}, "\n")
}

func (a *App) isPaused() bool {
	return a.engine.Paused()
}

func (a *App) setPaused(paused bool) bool {
	a.engine.SetPaused(paused)
	return a.engine.Paused()
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
