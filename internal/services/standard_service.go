package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StandardService manages the reusable obligation templates and applies
// them in batch to a location with a chosen maker and checker.
type StandardService struct {
	db       *gorm.DB
	perms    *PermissionResolver
	tasks    *TaskService
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewStandardService(db *gorm.DB, perms *PermissionResolver, tasks *TaskService, notifier Notifier, logger *zap.Logger) *StandardService {
	return &StandardService{
		db:       db,
		perms:    perms,
		tasks:    tasks,
		notifier: notifier,
		logger:   logger.With(zap.String("service", "standard_service")),
		now:      time.Now,
	}
}

func (ss *StandardService) List(ctx context.Context, categoryID *uint) ([]models.StandardObligation, error) {
	q := ss.db.WithContext(ctx).Preload("Category").Order("title ASC")
	if categoryID != nil {
		q = q.Where("category_id = ?", *categoryID)
	}
	var out []models.StandardObligation
	err := q.Find(&out).Error
	return out, err
}

type StandardInput struct {
	Title       string
	CategoryID  *uint
	RepeatJSON  string
	Criticality string
	RelevantFC  bool
	DisplayedFC string
}

func (ss *StandardService) Create(ctx context.Context, p Principal, in StandardInput) (*models.StandardObligation, error) {
	if !p.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fieldRequired("title")
	}
	std := &models.StandardObligation{
		Title:       in.Title,
		CategoryID:  in.CategoryID,
		RepeatJSON:  in.RepeatJSON,
		Criticality: in.Criticality,
		RelevantFC:  in.RelevantFC,
		DisplayedFC: in.DisplayedFC,
	}
	if std.RepeatJSON == "" {
		std.RepeatJSON = `{"frequency":null}`
	}
	if err := ss.db.WithContext(ctx).Create(std).Error; err != nil {
		return nil, err
	}
	return std, nil
}

func (ss *StandardService) Update(ctx context.Context, p Principal, id uint, in StandardInput) (*models.StandardObligation, error) {
	if !p.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	var std models.StandardObligation
	if err := ss.db.WithContext(ctx).First(&std, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fieldRequired("title")
	}
	std.Title = in.Title
	std.CategoryID = in.CategoryID
	std.Criticality = in.Criticality
	std.RelevantFC = in.RelevantFC
	std.DisplayedFC = in.DisplayedFC
	if in.RepeatJSON != "" {
		std.RepeatJSON = in.RepeatJSON
	}
	if err := ss.db.WithContext(ctx).Save(&std).Error; err != nil {
		return nil, err
	}
	return &std, nil
}

func (ss *StandardService) Delete(ctx context.Context, p Principal, id uint) error {
	if !p.IsSuperAdmin() {
		return ErrForbidden
	}
	res := ss.db.WithContext(ctx).Unscoped().Delete(&models.StandardObligation{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type ApplyInput struct {
	StandardIDs []uint
	CompanyID   *uint
	Maker       string
	Checker     string
	DueDate     string
	ValidFrom   string
}

// Apply instantiates the selected templates as obligations for one
// location. Created work is announced to each distinct maker as a single
// grouped assignment digest rather than one mail per obligation.
func (ss *StandardService) Apply(ctx context.Context, p Principal, in ApplyInput) ([]models.Task, error) {
	if !p.IsElevated() {
		return nil, ErrForbidden
	}
	if len(in.StandardIDs) == 0 {
		return nil, fieldRequired("standards")
	}
	if strings.TrimSpace(in.Maker) == "" {
		return nil, fieldRequired("maker")
	}

	var stds []models.StandardObligation
	if err := ss.db.WithContext(ctx).Where("id IN ?", in.StandardIDs).Find(&stds).Error; err != nil {
		return nil, err
	}
	if len(stds) == 0 {
		return nil, ErrNotFound
	}

	maker := ss.tasks.ResolvePerson(in.Maker, p)
	checker := ss.tasks.ResolvePerson(in.Checker, p)
	now := ss.now()

	created := make([]models.Task, 0, len(stds))
	err := ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, std := range stds {
			if !ss.perms.CanCreate(p, std.CategoryID) {
				return ErrForbidden
			}
			t := models.Task{
				Title:       std.Title,
				CategoryID:  std.CategoryID,
				CompanyID:   in.CompanyID,
				Maker:       maker,
				Checker:     checker,
				AssignedBy:  p.Name,
				DueDate:     normalizeDue(in.DueDate),
				ValidFrom:   in.ValidFrom,
				Criticality: std.Criticality,
				RelevantFC:  std.RelevantFC,
				DisplayedFC: std.DisplayedFC,
				RepeatJSON:  std.RepeatJSON,
				Status:      models.StatusPending,
			}
			if err := tx.Create(&t).Error; err != nil {
				return err
			}
			n := models.Note{
				TaskID: t.ID,
				Text:   fmt.Sprintf("Assigned to %s by %s (from standard)", maker, p.Name),
			}
			n.CreatedAt = now
			if err := tx.Create(&n).Error; err != nil {
				return err
			}
			created = append(created, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if to, ok := recipientByName(ss.db, maker); ok {
		refs := make([]*models.Task, 0, len(created))
		for i := range created {
			refs = append(refs, &created[i])
		}
		if err := ss.notifier.SendDigest(ctx, to, refs, AudienceAssignment); err != nil {
			ss.logger.Warn("Standard assignment digest failed",
				zap.String("maker", maker),
				zap.Int("tasks", len(created)),
				zap.Error(err))
		}
	}
	ss.logger.Info("Standards applied",
		zap.Int("standards", len(stds)),
		zap.Int("created", len(created)),
		zap.String("maker", maker))
	return created, nil
}
