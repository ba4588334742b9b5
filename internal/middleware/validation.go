package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/dokuprime/helpdesk-assistant/internal/model"
)

const (
	maxQueryLength  = 8000
	maxIDLength     = 128
	maxPlatformName = 32
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@+-]+$`)

var validUTF8 = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if !utf8.ValidString(s) {
		return errors.New("must be valid UTF-8")
	}
	return nil
})

// ValidateChatRequest validates an inbound turn. Conversation ids are
// opaque channel session ids, so only their shape is checked.
func ValidateChatRequest(req *model.ChatRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Query,
			validation.Required,
			validation.RuneLength(1, maxQueryLength),
			validUTF8,
		),
		validation.Field(&req.PlatformUserID,
			validation.Required,
			validation.Length(1, maxIDLength),
		),
		validation.Field(&req.Platform,
			validation.Required,
			validation.Length(1, maxPlatformName),
		),
		validation.Field(&req.ConversationID,
			validation.Length(0, maxIDLength),
			validation.Match(idPattern),
		),
	)
}

// ValidateFeedback validates a feedback request.
func ValidateFeedback(req *model.FeedbackRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.IsAnswered, validation.NotNil),
	)
}

// ValidateConversationID validates a conversation id path parameter.
func ValidateConversationID(id string) error {
	return validation.Validate(id,
		validation.Required.Error("conversation ID is required"),
		validation.Length(1, maxIDLength),
		validation.Match(idPattern).Error("invalid conversation ID format"),
	)
}

// ValidateHelpdeskStatus validates a helpdesk status update.
func ValidateHelpdeskStatus(req *model.HelpdeskStatus) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.IsActive, validation.NotNil),
	)
}
