package identity

import (
	"github.com/gofiber/fiber/v2"
)

// AuthController exposes the unauthenticated surface: registration,
// password reset, login and refresh.
type AuthController struct {
	register *RegistrationFlow
	reset    *PasswordResetFlow
	sessions *SessionEngine
	logger   Logger
}

func NewAuthController(register *RegistrationFlow, reset *PasswordResetFlow, sessions *SessionEngine) *AuthController {
	return &AuthController{
		register: register,
		reset:    reset,
		sessions: sessions,
		logger:   defLogger{},
	}
}

func (ac *AuthController) WithLogger(logger Logger) *AuthController {
	if logger != nil {
		ac.logger = logger
	}
	return ac
}

// RegisterRoutes mounts the public endpoints on the given router.
func (ac *AuthController) RegisterRoutes(r fiber.Router) {
	auth := r.Group("/auth")

	auth.Post("/register/send-code", ac.registerSendCode)
	auth.Post("/register/verify-code", ac.registerVerifyCode)
	auth.Post("/register/complete", ac.registerComplete)

	auth.Post("/password-reset/request", ac.resetRequest)
	auth.Post("/password-reset/verify", ac.resetVerify)
	auth.Post("/password-reset/reset", ac.resetFinalize)

	auth.Post("/login", ac.login)
	auth.Post("/refresh", ac.refresh)
}

func (ac *AuthController) registerSendCode(c *fiber.Ctx) error {
	payload := SendRegisterCodePayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := ac.register.SendCode(c.UserContext(), payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Verification code sent"})
}

func (ac *AuthController) registerVerifyCode(c *fiber.Ctx) error {
	payload := VerifyRegisterCodePayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	token, err := ac.register.VerifyCode(c.UserContext(), payload)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"token": token})
}

func (ac *AuthController) registerComplete(c *fiber.Ctx) error {
	payload := CompleteRegisterPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	profile, err := ac.register.Complete(c.UserContext(), payload)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": profile})
}

func (ac *AuthController) resetRequest(c *fiber.Ctx) error {
	payload := RequestResetPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	msg, err := ac.reset.Request(c.UserContext(), payload)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": msg})
}

func (ac *AuthController) resetVerify(c *fiber.Ctx) error {
	payload := VerifyResetCodePayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	token, err := ac.reset.VerifyCode(c.UserContext(), payload)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"token": token})
}

func (ac *AuthController) resetFinalize(c *fiber.Ctx) error {
	payload := ResetPasswordPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := ac.reset.Reset(c.UserContext(), payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Password has been reset"})
}

func (ac *AuthController) login(c *fiber.Ctx) error {
	payload := LoginPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	result, err := ac.sessions.Login(c.UserContext(), payload)
	if err != nil {
		return err
	}

	return c.JSON(result)
}

func (ac *AuthController) refresh(c *fiber.Ctx) error {
	payload := RefreshPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	access, err := ac.sessions.Refresh(c.UserContext(), payload)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"access_token": access})
}
