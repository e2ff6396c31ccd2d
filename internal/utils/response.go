package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the envelope every JSON endpoint answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// SendSuccess answers 200 with data.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus answers a success envelope with the given status.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if status == 0 {
		status = fiber.StatusOK
	}
	return send(c, status, true, message, "success", data)
}

// SendError answers a failure envelope without data.
func SendError(c *fiber.Ctx, status int, message string) error {
	return send(c, status, false, message, "error", nil)
}

// SendErrorWithData answers a failure envelope whose data explains the
// failure, such as the items that block a submission.
func SendErrorWithData(c *fiber.Ctx, status int, message string, data interface{}) error {
	return send(c, status, false, message, "error", data)
}

func send(c *fiber.Ctx, status int, success bool, message, fallback string, data interface{}) error {
	if message == "" {
		message = fallback
	}
	return c.Status(status).JSON(APIResponse{
		Success: success,
		Data:    data,
		Message: message,
	})
}
