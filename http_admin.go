package identity

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// AdminController exposes account management to operators. Every route sits
// behind the access-token middleware plus an admin role gate.
type AdminController struct {
	users       Users
	tokens      *TokenService
	phoneRegion string
	logger      Logger
}

func NewAdminController(users Users, tokens *TokenService) *AdminController {
	return &AdminController{
		users:       users,
		tokens:      tokens,
		phoneRegion: DefaultPhoneRegion,
		logger:      defLogger{},
	}
}

func (ad *AdminController) WithLogger(logger Logger) *AdminController {
	if logger != nil {
		ad.logger = logger
	}
	return ad
}

// WithPhoneRegion overrides the locale used for the phone-format check.
func (ad *AdminController) WithPhoneRegion(region string) *AdminController {
	if region != "" {
		ad.phoneRegion = region
	}
	return ad
}

// RegisterRoutes mounts the operator endpoints.
func (ad *AdminController) RegisterRoutes(r fiber.Router) {
	admin := r.Group("/admin/users", Protected(ad.tokens), RequireRole(RoleAdmin))

	admin.Get("/", ad.list)
	admin.Get("/:id", ad.show)
	admin.Post("/", ad.create)
	admin.Put("/:id", ad.update)
	admin.Delete("/:id", ad.deactivate)
}

func (ad *AdminController) list(c *fiber.Ctx) error {
	users, err := ad.users.ListActive(c.UserContext())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list accounts")
	}

	profiles := make([]*Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}

	return c.JSON(fiber.Map{"users": profiles})
}

func (ad *AdminController) show(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	user, err := ad.users.FindByID(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"user": user.Profile()})
}

// AdminCreateUserPayload provisions an account directly, skipping the
// verified registration flow.
type AdminCreateUserPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Role     string `json:"role,omitempty"`
}

func (p AdminCreateUserPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
		validation.Field(&p.Role, validation.In("", string(RoleUser), string(RoleAdmin))),
	)
}

func (ad *AdminController) create(c *fiber.Ctx) error {
	payload := AdminCreateUserPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return wrapValidation(err)
	}

	if payload.Phone != "" && !ValidatePhone(payload.Phone, ad.phoneRegion) {
		return invalidPhoneError()
	}

	email := NormalizeEmail(payload.Email)

	if _, err := ad.users.FindByEmail(c.UserContext(), email); err == nil {
		return goerrors.New("email is already in use", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict)
	} else if !goerrors.IsNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}

	hash, err := HashPassword(payload.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	role := RoleUser
	if payload.Role != "" {
		parsed, ok := ParseRole(payload.Role)
		if !ok {
			return goerrors.New("unknown role", goerrors.CategoryValidation).
				WithCode(goerrors.CodeBadRequest)
		}
		role = parsed
	}

	user := &User{
		Username:     payload.Username,
		Email:        email,
		Phone:        payload.Phone,
		Address:      payload.Address,
		Role:         role,
		PasswordHash: hash,
		IsActive:     true,
	}

	created, err := ad.users.Create(c.UserContext(), user)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": created.Profile()})
}

// AdminUpdateUserPayload edits an account in place. Email moves require the
// target address to be unclaimed by any other account.
type AdminUpdateUserPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Role     string `json:"role"`
}

func (p AdminUpdateUserPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Username, validation.Length(1, 100)),
		validation.Field(&p.Email, is.Email),
		validation.Field(&p.Role, validation.In("", string(RoleUser), string(RoleAdmin))),
	)
}

func (ad *AdminController) update(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	payload := AdminUpdateUserPayload{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return wrapValidation(err)
	}

	if payload.Phone != "" && !ValidatePhone(payload.Phone, ad.phoneRegion) {
		return invalidPhoneError()
	}

	user, err := ad.users.FindByID(c.UserContext(), id)
	if err != nil {
		return err
	}

	if payload.Email != "" {
		email := NormalizeEmail(payload.Email)
		if email != user.Email {
			if other, err := ad.users.FindByEmail(c.UserContext(), email); err == nil && other.ID != user.ID {
				return goerrors.New("email is already in use", goerrors.CategoryConflict).
					WithCode(goerrors.CodeConflict)
			} else if err != nil && !goerrors.IsNotFound(err) {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
			}
			user.Email = email
		}
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
	if payload.Role != "" {
		role, ok := ParseRole(payload.Role)
		if !ok {
			return goerrors.New("unknown role", goerrors.CategoryValidation).
				WithCode(goerrors.CodeBadRequest)
		}
		user.Role = role
	}

	updated, err := ad.users.Update(c.UserContext(), user)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
	}

	return c.JSON(fiber.Map{"user": updated.Profile()})
}

func (ad *AdminController) deactivate(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	if err := ad.users.Deactivate(c.UserContext(), id); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Account deactivated"})
}

func pathID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", goerrors.New("invalid user id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}
	return id, nil
}
