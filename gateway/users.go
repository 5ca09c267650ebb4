package gateway

import (
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type verifyEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type roleRequest struct {
	Role models.Role `json:"role" binding:"required"`
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (g *Gateway) register(c *gin.Context) {
	var in service.RegisterInput
	if !g.bindJSON(c, &in) {
		return
	}
	user, err := g.services.Users.Register(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "User registered successfully. Check your email for the verification code.", user)
}

func (g *Gateway) login(c *gin.Context) {
	var in service.LoginInput
	if !g.bindJSON(c, &in) {
		return
	}
	tokens, err := g.services.Users.Login(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Login successful", tokens)
}

func (g *Gateway) refresh(c *gin.Context) {
	var req refreshRequest
	if !g.bindJSON(c, &req) {
		return
	}
	tokens, err := g.services.Users.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Token refreshed successfully", tokens)
}

func (g *Gateway) logout(c *gin.Context) {
	if err := g.services.Users.Logout(c.Request.Context(), currentUser(c).ID); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Logged out successfully", nil)
}

func (g *Gateway) verifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if !g.bindJSON(c, &req) {
		return
	}
	if err := g.services.Users.VerifyEmail(c.Request.Context(), req.Email, req.Code); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Email verified successfully", nil)
}

func (g *Gateway) resendVerification(c *gin.Context) {
	var req emailRequest
	if !g.bindJSON(c, &req) {
		return
	}
	if err := g.services.Users.ResendVerification(c.Request.Context(), req.Email); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Verification code sent", nil)
}

func (g *Gateway) requestPasswordReset(c *gin.Context) {
	var req emailRequest
	if !g.bindJSON(c, &req) {
		return
	}
	if err := g.services.Users.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "If the email is registered, a reset code has been sent", nil)
}

func (g *Gateway) confirmPasswordReset(c *gin.Context) {
	var in service.PasswordResetInput
	if !g.bindJSON(c, &in) {
		return
	}
	if err := g.services.Users.ConfirmPasswordReset(c.Request.Context(), in); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Password updated successfully", nil)
}

func (g *Gateway) me(c *gin.Context) {
	user, err := g.services.Users.Get(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "User retrieved successfully", user)
}

func (g *Gateway) updateMe(c *gin.Context) {
	var patch service.ProfilePatch
	if !g.bindJSON(c, &patch) {
		return
	}
	user, err := g.services.Users.UpdateProfile(c.Request.Context(), currentUser(c).ID, patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Profile updated successfully", user)
}

func (g *Gateway) listAddresses(c *gin.Context) {
	addresses, err := g.services.Users.ListAddresses(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Addresses retrieved successfully", addresses)
}

func (g *Gateway) addAddress(c *gin.Context) {
	var in service.AddressInput
	if !g.bindJSON(c, &in) {
		return
	}
	addr, err := g.services.Users.AddAddress(c.Request.Context(), currentUser(c).ID, in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Address created successfully", addr)
}

func (g *Gateway) updateAddress(c *gin.Context) {
	var in service.AddressInput
	if !g.bindJSON(c, &in) {
		return
	}
	addr, err := g.services.Users.UpdateAddress(c.Request.Context(), currentUser(c).ID, c.Param("address_id"), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Address updated successfully", addr)
}

func (g *Gateway) deleteAddress(c *gin.Context) {
	if err := g.services.Users.DeleteAddress(c.Request.Context(), currentUser(c).ID, c.Param("address_id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Address deleted successfully", nil)
}

// Admin.

func (g *Gateway) listUsers(c *gin.Context) {
	var filter service.UserFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	users, err := g.services.Users.List(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Users retrieved successfully", users)
}

func (g *Gateway) getUser(c *gin.Context) {
	user, err := g.services.Users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "User retrieved successfully", user)
}

func (g *Gateway) setUserRole(c *gin.Context) {
	var req roleRequest
	if !g.bindJSON(c, &req) {
		return
	}
	user, err := g.services.Users.SetRole(c.Request.Context(), c.Param("id"), req.Role)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Role updated successfully", user)
}

func (g *Gateway) setUserActive(c *gin.Context) {
	var req activeRequest
	if !g.bindJSON(c, &req) {
		return
	}
	user, err := g.services.Users.SetActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "User status updated successfully", user)
}

func (g *Gateway) deleteUser(c *gin.Context) {
	if err := g.services.Users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "User deleted successfully", nil)
}
