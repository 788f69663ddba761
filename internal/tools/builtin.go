package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kpataki/klaragw/internal/gemini"
	"github.com/kpataki/klaragw/internal/model"
	"github.com/kpataki/klaragw/internal/repository"
	"github.com/kpataki/klaragw/pkg/logger"
)

// StatusProvider returns a snapshot of gateway health for the
// get_service_status tool.
type StatusProvider func() map[string]any

// RegisterDefaults wires the built-in phone assistant tools into reg.
func RegisterDefaults(reg *Registry, reminders *repository.ReminderRepository, status StatusProvider) {
	reg.RegisterBuiltin(gemini.FunctionDeclaration{
		Name:        "get_service_status",
		Description: "Returns the current status of the monitored services.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		snapshot := map[string]any{
			"server_1": "online",
			"database": "online",
			"uptime":   "99%",
		}
		if status != nil {
			for k, v := range status() {
				snapshot[k] = v
			}
		}
		raw, err := json.Marshal(snapshot)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	})

	reg.RegisterBuiltin(gemini.FunctionDeclaration{
		Name:        "set_reminder",
		Description: "Saves a reminder with the given text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The reminder text to save.",
				},
			},
			"required": []string{"text"},
		},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		if text == "" {
			return "", fmt.Errorf("set_reminder requires a non-empty text argument")
		}
		callID, _ := args["call_id"].(string)
		if reminders != nil {
			if err := reminders.Create(&model.Reminder{Text: text, CallID: callID}); err != nil {
				return "", fmt.Errorf("save reminder: %w", err)
			}
		}
		logger.Log.Infof("Reminder saved: %s", text)
		return fmt.Sprintf("Reminder saved: %s", text), nil
	})
}
