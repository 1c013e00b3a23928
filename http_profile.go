package identity

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// ProfileController exposes the authenticated self-service surface: the
// profile itself plus the password-change and email-change flows, which both
// act on the account behind the session.
type ProfileController struct {
	users       Users
	tokens      *TokenService
	sessions    *SessionEngine
	pwChange    *PasswordChangeFlow
	emailChange *EmailChangeFlow
	phoneRegion string
	logger      Logger
}

func NewProfileController(users Users, tokens *TokenService, sessions *SessionEngine, pwChange *PasswordChangeFlow, emailChange *EmailChangeFlow) *ProfileController {
	return &ProfileController{
		users:       users,
		tokens:      tokens,
		sessions:    sessions,
		pwChange:    pwChange,
		emailChange: emailChange,
		phoneRegion: DefaultPhoneRegion,
		logger:      defLogger{},
	}
}

func (pc *ProfileController) WithLogger(logger Logger) *ProfileController {
	if logger != nil {
		pc.logger = logger
	}
	return pc
}

// WithPhoneRegion overrides the locale used for the phone-format check.
func (pc *ProfileController) WithPhoneRegion(region string) *ProfileController {
	if region != "" {
		pc.phoneRegion = region
	}
	return pc
}

// RegisterRoutes mounts the endpoints behind the access-token middleware.
func (pc *ProfileController) RegisterRoutes(r fiber.Router) {
	profile := r.Group("/profile", Protected(pc.tokens))

	profile.Get("/", pc.show)
	profile.Put("/", pc.update)
	profile.Post("/logout", pc.logout)

	profile.Post("/password-change/request", pc.passwordChangeRequest)
	profile.Post("/password-change", pc.passwordChange)

	profile.Post("/email-change/request", pc.emailChangeRequest)
	profile.Post("/email-change/verify-old", pc.emailChangeVerifyOld)
	profile.Post("/email-change/request-new", pc.emailChangeRequestNew)
	profile.Post("/email-change/verify-new", pc.emailChangeVerifyNew)
}

func (pc *ProfileController) currentUser(c *fiber.Ctx) (*Claims, error) {
	claims := SessionFromCtx(c)
	if claims == nil {
		return nil, goerrors.New("authentication required", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}
	return claims, nil
}

func (pc *ProfileController) show(c *fiber.Ctx) error {
	claims, err := pc.currentUser(c)
	if err != nil {
		return err
	}

	user, err := pc.users.FindByID(c.UserContext(), claims.UID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"user": user.Profile()})
}

// UpdateProfilePayload carries the mutable profile fields. Email and
// password have their own verified flows and are not accepted here.
type UpdateProfilePayload struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

func (p UpdateProfilePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Username, validation.Length(1, 100)),
		validation.Field(&p.Address, validation.Length(0, 500)),
	)
}

func (pc *ProfileController) update(c *fiber.Ctx) error {
	claims, err := pc.currentUser(c)
	if err != nil {
		return err
	}

	payload := UpdateProfilePayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return wrapValidation(err)
	}

	if payload.Phone != "" && !ValidatePhone(payload.Phone, pc.phoneRegion) {
		return invalidPhoneError()
	}

	user, err := pc.users.FindByID(c.UserContext(), claims.UID)
	if err != nil {
		return err
	}

	if payload.Username != "" {
		user.Username = payload.Username
	}
	if payload.Phone != "" {
		user.Phone = payload.Phone
	}
	if payload.Address != "" {
		user.Address = payload.Address
	}

	updated, err := pc.users.Update(c.UserContext(), user)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
	}

	return c.JSON(fiber.Map{"user": updated.Profile()})
}

func (pc *ProfileController) logout(c *fiber.Ctx) error {
	claims, err := pc.currentUser(c)
	if err != nil {
		return err
	}

	if err := pc.sessions.Logout(c.UserContext(), claims.UID); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Logged out"})
}

func (pc *ProfileController) passwordChangeRequest(c *fiber.Ctx) error {
	claims, err := pc.currentUser(c)
	if err != nil {
		return err
	}

	msg, err := pc.pwChange.RequestCode(c.UserContext(), claims.UID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": msg})
}

func (pc *ProfileController) passwordChange(c *fiber.Ctx) error {
	claims, err := pc.currentUser(c)
	if err != nil {
		return err
	}

	payload := ChangePasswordPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := pc.pwChange.Change(c.UserContext(), claims.UID, payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Password has been changed"})
}

func (pc *ProfileController) emailChangeRequest(c *fiber.Ctx) error {
	claims, err := pc.currentUser(c)
	if err != nil {
		return err
	}

	if err := pc.emailChange.RequestOldCode(c.UserContext(), claims.UID); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Verification code sent to your current email"})
}

func (pc *ProfileController) emailChangeVerifyOld(c *fiber.Ctx) error {
	claims, err := pc.currentUser(c)
	if err != nil {
		return err
	}

	payload := VerifyOldCodePayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := pc.emailChange.VerifyOldCode(c.UserContext(), claims.UID, payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Current email verified"})
}

func (pc *ProfileController) emailChangeRequestNew(c *fiber.Ctx) error {
	claims, err := pc.currentUser(c)
	if err != nil {
		return err
	}

	payload := RequestNewCodePayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := pc.emailChange.RequestNewCode(c.UserContext(), claims.UID, payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Verification code sent to the new email"})
}

func (pc *ProfileController) emailChangeVerifyNew(c *fiber.Ctx) error {
	claims, err := pc.currentUser(c)
	if err != nil {
		return err
	}

	payload := VerifyNewCodePayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	profile, err := pc.emailChange.VerifyNewCode(c.UserContext(), claims.UID, payload)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"user": profile})
}
