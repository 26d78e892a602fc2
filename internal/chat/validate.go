package chat

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// CreateRoomRequest is the body of a room creation
type CreateRoomRequest struct {
	Name      string          `json:"name" validate:"max=50"`
	MemberIDs []string        `json:"memberIds" validate:"required,min=1,dive,required"`
	Type      models.RoomType `json:"type" validate:"required,oneof=DIRECT GROUP"`
}

// SendMessageRequest is the body of a message send, over HTTP or websocket
type SendMessageRequest struct {
	RoomID           string             `json:"roomId" validate:"required"`
	Content          string             `json:"content" validate:"required"`
	Type             models.MessageType `json:"type,omitempty" validate:"omitempty,oneof=TEXT IMAGE FILE"`
	ReplyToMessageID *string            `json:"replyToMessageId,omitempty"`
	MentionedUserIDs []string           `json:"mentionedUserIds,omitempty" validate:"dive,required"`
}

func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.BadRequest("invalid request")
	}
	reasons := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		if fe.Param() != "" {
			return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s is %s", fe.Field(), fe.Tag())
	})
	return apperr.BadRequest("invalid request: %s", strings.Join(reasons, "; "))
}

func (d *deps) validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.BadRequest("message content must not be blank")
	}
	if n := len([]rune(content)); n > d.limits.MaxContentLength {
		return apperr.BadRequest("message content exceeds %d characters", d.limits.MaxContentLength)
	}
	return nil
}
