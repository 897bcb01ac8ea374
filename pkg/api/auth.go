package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/auth"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/store"
)

type contactRequest struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	PhoneSuffix string `json:"phoneSuffix"`
	OTP         string `json:"otp"`
}

func (r contactRequest) contact() (model.Contact, error) {
	switch {
	case strings.TrimSpace(r.Email) != "":
		return model.Contact{Email: strings.TrimSpace(r.Email)}, nil
	case r.PhoneNumber == "":
		return model.Contact{}, apperr.Validation("Email or phone number is required")
	case r.PhoneSuffix == "":
		return model.Contact{}, apperr.Validation("Phone suffix is required")
	}
	return model.Contact{PhoneSuffix: r.PhoneSuffix, PhoneNumber: r.PhoneNumber}, nil
}

// sendOTP creates the user on first use and issues a fresh code.
func (s *Server) sendOTP(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("Invalid request body"))
		return
	}
	contact, err := req.contact()
	if err != nil {
		fail(c, err)
		return
	}

	ctx := c.Request.Context()
	u, err := s.d.Users.UpsertContact(ctx, contact)
	if err != nil {
		s.fail(c, err)
		return
	}
	code, err := auth.GenerateOTP()
	if err != nil {
		s.fail(c, errors.Wrap(err, "generate otp"))
		return
	}
	if err := s.d.Users.SetOTP(ctx, u.ID, code, s.now().Add(s.d.OTPTTL)); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.d.OTP.SendOTP(ctx, contact, code); err != nil {
		s.log.Error("otp delivery failed", zap.String("user", u.ID), zap.Error(err))
		fail(c, apperr.Upstream("Failed to send OTP", err))
		return
	}

	var to string
	if contact.IsEmail() {
		to = contact.Email
	} else {
		to = contact.PhoneSuffix + contact.PhoneNumber
	}
	ok(c, "OTP sent successfully", gin.H{"to": to})
}

func (s *Server) verifyOTP(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("Invalid request body"))
		return
	}
	contact, err := req.contact()
	if err != nil {
		fail(c, err)
		return
	}
	if req.OTP == "" {
		fail(c, apperr.Validation("OTP is required"))
		return
	}

	ctx := c.Request.Context()
	u, err := s.d.Users.FindByContact(ctx, contact)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, apperr.NotFound("User not found"))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if !auth.VerifyOTP(u.OTP, u.OTPExpiresAt, req.OTP, s.now()) {
		fail(c, apperr.Validation("Invalid or expired OTP"))
		return
	}
	if err := s.d.Users.MarkVerified(ctx, u.ID); err != nil {
		s.fail(c, err)
		return
	}
	u.IsVerified = true

	token, err := s.d.Signer.GenerateToken(u.ID)
	if err != nil {
		s.fail(c, errors.Wrap(err, "sign token"))
		return
	}
	c.SetCookie(auth.CookieName, token, int(s.d.TokenTTL.Seconds()), "/", "", s.d.SecureCookie, true)
	ok(c, "OTP verified successfully", gin.H{"token": token, "user": u})
}

func (s *Server) logout(c *gin.Context) {
	c.SetCookie(auth.CookieName, "", -1, "/", "", s.d.SecureCookie, true)
	ok(c, "Logged out successfully", nil)
}

func (s *Server) checkAuth(c *gin.Context) {
	u, err := s.d.Users.User(c.Request.Context(), currentUser(c))
	if errors.Is(err, store.ErrNotFound) {
		fail(c, apperr.NotFound("User not found"))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "User is authenticated", u)
}

// updateProfile takes a multipart form with optional username, about,
// agreed and a profile picture in the media field.
func (s *Server) updateProfile(c *gin.Context) {
	var p model.Profile
	if v, has := c.GetPostForm("username"); has {
		p.Username = &v
	}
	if v, has := c.GetPostForm("about"); has {
		p.About = &v
	}
	if v, has := c.GetPostForm("agreed"); has {
		agreed, err := strconv.ParseBool(v)
		if err != nil {
			fail(c, apperr.Validation("Invalid agreed flag"))
			return
		}
		p.IsAgreed = &agreed
	}

	upload, done, err := formUpload(c, "media")
	defer done()
	if err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if upload != nil {
		if ct, valid := model.ContentTypeForMIME(upload.MIME); !valid || ct != model.ContentImage {
			fail(c, apperr.Validation("Profile picture must be an image"))
			return
		}
		if s.d.Uploader == nil {
			fail(c, apperr.Upstream("Failed to upload profile picture", errors.New("no uploader")))
			return
		}
		url, err := s.d.Uploader.Upload(ctx, *upload)
		if err != nil {
			s.log.Error("profile upload failed", zap.String("user", currentUser(c)), zap.Error(err))
			fail(c, apperr.Upstream("Failed to upload profile picture", err))
			return
		}
		p.ProfilePic = &url
	}

	u, err := s.d.Users.UpdateProfile(ctx, currentUser(c), p)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, apperr.NotFound("User not found"))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "Profile updated successfully", u)
}

func (s *Server) users(c *gin.Context) {
	peers, err := s.d.Hub.Peers(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "Users retrieved successfully", peers)
}
