package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/config"
	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/KuldeepProzo/ProCompliance/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("reset token invalid or expired")
	ErrLastSuperAdmin     = errors.New("cannot remove the last superadmin")
)

// UserService owns accounts, authentication tokens, password resets and
// the people directory used to fill maker and checker fields.
type UserService struct {
	db       *gorm.DB
	notifier Notifier
	logger   *zap.Logger
	security config.SecurityConfig
	appURL   string
	now      func() time.Time
}

func NewUserService(db *gorm.DB, notifier Notifier, security config.SecurityConfig, appURL string, logger *zap.Logger) *UserService {
	return &UserService{
		db:       db,
		notifier: notifier,
		logger:   logger.With(zap.String("service", "user_service")),
		security: security,
		appURL:   appURL,
		now:      time.Now,
	}
}

type authClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticate verifies credentials and issues a signed bearer token.
func (us *UserService) Authenticate(ctx context.Context, email, password string) (string, *models.User, error) {
	var user models.User
	err := us.db.WithContext(ctx).Where("lower(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if ok, _ := utils.VerifyPassword(user.PasswordHash, password); !ok {
		return "", nil, ErrInvalidCredentials
	}

	now := us.now()
	claims := authClaims{
		Email: user.Email,
		Name:  user.Name,
		Role:  string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(us.security.TokenLifetime)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(us.security.JWTSecret))
	if err != nil {
		return "", nil, err
	}
	us.logger.Info("User authenticated", zap.String("email", user.Email), zap.String("role", string(user.Role)))
	return token, &user, nil
}

// VerifyToken parses a bearer token and returns the user id it names.
func (us *UserService) VerifyToken(tokenString string) (uint, error) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(us.security.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidCredentials
	}
	var id uint
	if _, err := fmt.Sscanf(claims.Subject, "%d", &id); err != nil {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}

// PrincipalFor loads the authorization context for a user id, including
// the admin category allow-set.
func (us *UserService) PrincipalFor(ctx context.Context, id uint) (Principal, error) {
	var user models.User
	if err := us.db.WithContext(ctx).Preload("Categories").First(&user, id).Error; err != nil {
		return Principal{}, ErrNotFound
	}
	p := Principal{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  models.NormalizeRole(string(user.Role)),
	}
	for _, c := range user.Categories {
		p.AllowedCategoryIDs = append(p.AllowedCategoryIDs, c.ID)
	}
	return p, nil
}

type UserInput struct {
	Email       string
	Name        string
	Role        string
	Password    string
	CategoryIDs []uint
}

// Create registers an account. Superadmins may create any role; admins may
// only create viewers. The new user is mailed a temporary password.
func (us *UserService) Create(ctx context.Context, actor Principal, in UserInput) (*models.User, error) {
	if !actor.IsElevated() {
		return nil, ErrForbidden
	}
	role := models.NormalizeRole(in.Role)
	if !actor.IsSuperAdmin() && role != models.RoleViewer {
		return nil, ErrForbidden
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fieldRequired("email")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = utils.NameFromEmail(email)
	}
	password := in.Password
	if password == "" {
		password = us.security.DefaultPassword
	}
	if password == "" {
		password = uuid.NewString()[:12]
	}
	hash, err := utils.EncryptPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{Email: email, Name: name, Role: role, PasswordHash: hash}
	err = us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return us.replaceCategories(tx, user, role, in.CategoryIDs)
	})
	if err != nil {
		return nil, err
	}

	if err := us.notifier.SendRegistration(ctx, Recipient{Email: email, Name: name}, password); err != nil {
		us.logger.Warn("Registration mail failed", zap.String("email", email), zap.Error(err))
	}
	us.logger.Info("User created", zap.String("email", email), zap.String("role", string(role)))
	return user, nil
}

// FindOrCreateViewer resolves an email to an account, registering a viewer
// with the default password when none exists. Used by bulk import.
func (us *UserService) FindOrCreateViewer(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fieldRequired("email")
	}
	var user models.User
	err := us.db.WithContext(ctx).Where("lower(email) = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	password := us.security.DefaultPassword
	if password == "" {
		password = uuid.NewString()[:12]
	}
	hash, err := utils.EncryptPassword(password)
	if err != nil {
		return nil, err
	}
	user = models.User{
		Email:        email,
		Name:         utils.NameFromEmail(email),
		Role:         models.RoleViewer,
		PasswordHash: hash,
	}
	if err := us.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	if err := us.notifier.SendRegistration(ctx, Recipient{Email: email, Name: user.Name}, password); err != nil {
		us.logger.Warn("Registration mail failed", zap.String("email", email), zap.Error(err))
	}
	return &user, nil
}

type UserUpdate struct {
	Name        *string
	Role        *string
	Password    *string
	CategoryIDs *[]uint
}

// Update changes an account. Role changes are superadmin-only and the last
// superadmin can never be demoted.
func (us *UserService) Update(ctx context.Context, actor Principal, id uint, upd UserUpdate) (*models.User, error) {
	if !actor.IsElevated() {
		return nil, ErrForbidden
	}
	var user models.User
	if err := us.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, ErrNotFound
	}
	if !actor.IsSuperAdmin() && (user.IsElevated() || upd.Role != nil) {
		return nil, ErrForbidden
	}

	if upd.Role != nil {
		newRole := models.NormalizeRole(*upd.Role)
		if user.Role == models.RoleSuperAdmin && newRole != models.RoleSuperAdmin {
			if n, err := us.superAdminCount(ctx); err != nil {
				return nil, err
			} else if n <= 1 {
				return nil, ErrLastSuperAdmin
			}
		}
		user.Role = newRole
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) != "" {
		user.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Password != nil && *upd.Password != "" {
		hash, err := utils.EncryptPassword(*upd.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	err := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&user).Error; err != nil {
			return err
		}
		if upd.CategoryIDs != nil {
			return us.replaceCategories(tx, &user, user.Role, *upd.CategoryIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Delete removes an account. Self-deletion and deleting the last
// superadmin are refused.
func (us *UserService) Delete(ctx context.Context, actor Principal, id uint) error {
	if !actor.IsSuperAdmin() {
		return ErrForbidden
	}
	if actor.ID == id {
		return ErrForbidden
	}
	var user models.User
	if err := us.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return ErrNotFound
	}
	if user.Role == models.RoleSuperAdmin {
		if n, err := us.superAdminCount(ctx); err != nil {
			return err
		} else if n <= 1 {
			return ErrLastSuperAdmin
		}
	}
	err := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Association("Categories").Clear(); err != nil {
			return err
		}
		return tx.Unscoped().Delete(&user).Error
	})
	if err == nil {
		us.logger.Info("User deleted", zap.String("email", user.Email))
	}
	return err
}

func (us *UserService) List(ctx context.Context, actor Principal) ([]models.User, error) {
	if !actor.IsElevated() {
		return nil, ErrForbidden
	}
	var users []models.User
	err := us.db.WithContext(ctx).Preload("Categories").Order("name ASC").Find(&users).Error
	return users, err
}

// People returns the display names offered for maker and checker fields,
// with the "Me" alias first. The alias resolves to the caller at save time.
func (us *UserService) People(ctx context.Context) ([]string, error) {
	var names []string
	err := us.db.WithContext(ctx).Model(&models.User{}).
		Order("name ASC").Pluck("name", &names).Error
	if err != nil {
		return nil, err
	}
	return append([]string{"Me"}, names...), nil
}

// ForgotPassword issues a single-use reset token and mails the reset link.
// Unknown emails are ignored without error to avoid account probing.
func (us *UserService) ForgotPassword(ctx context.Context, email string) error {
	var user models.User
	err := us.db.WithContext(ctx).Where("lower(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil
	}
	token := uuid.NewString()
	expires := us.now().Add(us.security.ResetLifetime)
	if err := us.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"reset_token":   token,
		"reset_expires": expires,
	}).Error; err != nil {
		return err
	}
	resetURL := fmt.Sprintf("%s/#/reset/%s", us.appURL, token)
	if err := us.notifier.SendPasswordReset(ctx, Recipient{Email: user.Email, Name: user.Name}, resetURL); err != nil {
		us.logger.Warn("Reset mail failed", zap.String("email", user.Email), zap.Error(err))
		return err
	}
	return nil
}

// ResetPassword consumes a reset token and sets the new password.
func (us *UserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return fieldRequired("password")
	}
	var user models.User
	err := us.db.WithContext(ctx).Where("reset_token = ? AND reset_token != ''", token).First(&user).Error
	if err != nil {
		return ErrTokenExpired
	}
	if user.ResetExpires == nil || us.now().After(*user.ResetExpires) {
		return ErrTokenExpired
	}
	hash, err := utils.EncryptPassword(newPassword)
	if err != nil {
		return err
	}
	return us.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"password_hash": hash,
		"reset_token":   "",
		"reset_expires": nil,
	}).Error
}

func (us *UserService) superAdminCount(ctx context.Context) (int64, error) {
	var n int64
	err := us.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", models.RoleSuperAdmin).Count(&n).Error
	return n, err
}

// replaceCategories resets the admin category allow-set. Non-admin roles
// carry no allow-set.
func (us *UserService) replaceCategories(tx *gorm.DB, user *models.User, role models.UserRole, ids []uint) error {
	if err := tx.Model(user).Association("Categories").Clear(); err != nil {
		return err
	}
	if role != models.RoleAdmin || len(ids) == 0 {
		return nil
	}
	var cats []models.Category
	if err := tx.Where("id IN ?", ids).Find(&cats).Error; err != nil {
		return err
	}
	return tx.Model(user).Association("Categories").Append(&cats)
}
