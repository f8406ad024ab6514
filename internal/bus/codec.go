package bus

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"tpoms/internal/models"
)

// ErrInvalidCommand - сообщение канала запросов не является командой
var ErrInvalidCommand = errors.New("invalid bus command")

// DecodeCommand разбирает входящий конверт {Action, TPOmsName?, UserId, Data}
func DecodeCommand(payload []byte) (*models.Command, error) {
	var cmd models.Command
	if err := models.JSON.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	cmd.Action = strings.ToUpper(strings.TrimSpace(cmd.Action))
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	if cmd.Action == "" {
		return nil, fmt.Errorf("%w: missing Action", ErrInvalidCommand)
	}
	if cmd.UserID == "" {
		return nil, fmt.Errorf("%w: missing UserId", ErrInvalidCommand)
	}
	return &cmd, nil
}

// DecodeOrderRequest разбирает поле Data команды ордера
// Числа принимаются и строкой, и числом.
func DecodeOrderRequest(data jsoniter.RawMessage) (*models.OrderRequest, error) {
	req := &models.OrderRequest{}
	if len(data) == 0 || string(data) == "null" {
		return req, nil
	}
	if err := models.JSON.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("decode order request: %w", err)
	}
	return req, nil
}
