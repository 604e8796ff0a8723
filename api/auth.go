package api

import (
	"net/http"
	"time"

	golangjwt "github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
	"github.com/exef-io/exef/security"
)

// identityID extracts the authenticated identity from the verified token.
func identityID(c echo.Context) string {
	token, ok := c.Get("user").(*golangjwt.Token)
	if !ok {
		return ""
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	NIP       string `json:"nip"`
	PESEL     string `json:"pesel"`
}

type authResponse struct {
	Token    string          `json:"token"`
	Identity *model.Identity `json:"identity"`
}

func (s *Server) tokenFor(identity *model.Identity) (string, error) {
	ttl := s.cfg.Security.JWTExpiration
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.jwt.GenerateToken(identity.ID, identity.Email, ttl)
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.NIP != "" {
		req.NIP = model.NormalizeNIP(req.NIP)
		if !model.ValidNIP(req.NIP) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "nieprawidłowy numer NIP")
		}
	}
	if req.PESEL != "" && !model.ValidPESEL(req.PESEL) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "nieprawidłowy numer PESEL")
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		return err
	}
	identity := model.Identity{
		ID:           model.NewID(),
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		NIP:          req.NIP,
		PESEL:        req.PESEL,
		PasswordHash: hash,
	}
	if err := s.rt.Main().Create(&identity).Error; err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "konto z tym adresem e-mail już istnieje")
	}

	token, err := s.tokenFor(&identity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, authResponse{Token: token, Identity: &identity})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	var identity model.Identity
	err := s.rt.Main().First(&identity, "email = ?", req.Email).Error
	if err != nil || identity.IsStub() ||
		security.VerifyPassword(identity.PasswordHash, req.Password) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "nieprawidłowy e-mail lub hasło")
	}

	token, err := s.tokenFor(&identity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, authResponse{Token: token, Identity: &identity})
}

type magicLinkRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// handleMagicLinkRequest issues a single-use login link and mails it. The
// response never reveals whether the address has an account.
func (s *Server) handleMagicLinkRequest(c echo.Context) error {
	var req magicLinkRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	resp := map[string]any{
		"ok":      true,
		"message": "Jeśli konto istnieje, link logowania został wysłany",
	}

	var identity model.Identity
	if err := s.rt.Main().First(&identity, "email = ?", req.Email).Error; err != nil {
		if err != gorm.ErrRecordNotFound {
			return err
		}
		return c.JSON(http.StatusOK, resp)
	}
	if identity.IsStub() {
		return c.JSON(http.StatusOK, resp)
	}

	link, err := s.links.Issue(identity.ID)
	if err != nil {
		return err
	}
	if err := s.mailer.SendMagicLink(identity.Email, link.Token); err != nil {
		common.Logger.WithError(err).WithField("email", identity.Email).Warn("failed to send magic link")
	}
	if s.cfg.Server.Debug {
		resp["token"] = link.Token
	}
	return c.JSON(http.StatusOK, resp)
}

type magicLinkConsumeRequest struct {
	Token string `json:"token" validate:"required"`
}

func (s *Server) handleMagicLinkConsume(c echo.Context) error {
	var req magicLinkConsumeRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	link, err := s.links.Consume(req.Token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	var identity model.Identity
	if err := s.rt.Main().First(&identity, "id = ?", link.IdentityID).Error; err != nil {
		return domainError(err)
	}
	token, err := s.tokenFor(&identity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, authResponse{Token: token, Identity: &identity})
}
