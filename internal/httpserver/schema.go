package httpserver

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const schemaCheckout = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["userId", "game", "service", "amount", "currency"],
  "properties": {
    "orderId":       { "type": "string", "maxLength": 128 },
    "userId":        { "type": "string", "minLength": 1, "maxLength": 128 },
    "customerName":  { "type": "string", "maxLength": 200 },
    "customerEmail": { "type": "string", "maxLength": 320 },
    "game":          { "type": "string", "minLength": 1, "maxLength": 100 },
    "service":       { "type": "string", "minLength": 1, "maxLength": 200 },
    "amount":        { "type": "string", "pattern": "^[0-9]+(\\.[0-9]{1,8})?$" },
    "currency":      { "type": "string", "minLength": 2, "maxLength": 10 }
  },
  "additionalProperties": false
}`

const schemaNotificationSend = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "event", "data"],
  "properties": {
    "type":   { "enum": ["admin", "user"] },
    "event":  { "type": "string", "minLength": 1, "maxLength": 64 },
    "data":   { "type": "object" },
    "userId": { "type": "string", "minLength": 1 }
  },
  "if":   { "properties": { "type": { "const": "user" } } },
  "then": { "required": ["userId"] },
  "additionalProperties": false
}`

const schemaOrderStatus = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": { "enum": ["pending", "in-progress", "completed", "cancelled"] }
  },
  "additionalProperties": false
}`

const schemaConfirmPayment = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "reference": { "type": "string", "maxLength": 200 }
  },
  "additionalProperties": false
}`

var (
	checkoutLoader         = gojsonschema.NewStringLoader(schemaCheckout)
	notificationSendLoader = gojsonschema.NewStringLoader(schemaNotificationSend)
	orderStatusLoader      = gojsonschema.NewStringLoader(schemaOrderStatus)
	confirmPaymentLoader   = gojsonschema.NewStringLoader(schemaConfirmPayment)
)

// validateJSONSchema checks body against a schema and joins every violation
// into one message.
func validateJSONSchema(schemaLoader gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("request does not match schema: %s", strings.Join(msgs, "; "))
}
