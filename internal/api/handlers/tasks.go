package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/KuldeepProzo/ProCompliance/internal/api/middleware"
	"github.com/KuldeepProzo/ProCompliance/internal/config"
	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/KuldeepProzo/ProCompliance/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TaskHandler struct {
	tasks   *services.TaskService
	users   *services.UserService
	meta    *services.MetaService
	uploads config.UploadConfig
	logger  *zap.Logger
}

func NewTaskHandler(tasks *services.TaskService, users *services.UserService, meta *services.MetaService, uploads config.UploadConfig, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:   tasks,
		users:   users,
		meta:    meta,
		uploads: uploads,
		logger:  logger.With(zap.String("handler", "tasks")),
	}
}

func (th *TaskHandler) List(c *gin.Context) {
	p := middleware.Principal(c)
	filter := services.TaskFilter{
		Title:      c.Query("title"),
		Maker:      c.Query("maker"),
		AssignedBy: c.Query("assigned_by"),
		CategoryID: uintQuery(c, "category_id"),
		CompanyID:  uintQuery(c, "company_id"),
		Status:     c.Query("status"),
		From:       c.Query("from"),
		To:         c.Query("to"),
		Tab:        c.Query("tab"),
		Sort:       c.Query("sort"),
		Dir:        c.Query("dir"),
	}
	tasks, err := th.tasks.List(c.Request.Context(), p, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (th *TaskHandler) Get(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	task, err := th.tasks.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (th *TaskHandler) Create(c *gin.Context) {
	p := middleware.Principal(c)
	in := services.TaskInput{
		Title:        c.PostForm("title"),
		Description:  c.PostForm("description"),
		CategoryID:   formUint(c, "category_id"),
		CompanyID:    formUint(c, "company_id"),
		Maker:        c.PostForm("maker"),
		Checker:      c.PostForm("checker"),
		AssignedBy:   c.PostForm("assigned_by"),
		DueDate:      utils.NormalizeDate(c.PostForm("due_date")),
		ValidFrom:    c.PostForm("valid_from"),
		Criticality:  c.PostForm("criticality"),
		LicenseOwner: c.PostForm("license_owner"),
		RelevantFC:   strings.EqualFold(c.PostForm("relevant_fc"), "yes") || c.PostForm("relevant_fc") == "true",
		DisplayedFC:  c.PostForm("displayed_fc"),
		RepeatJSON:   c.PostForm("repeat"),
	}
	if in.AssignedBy == "" {
		in.AssignedBy = p.Name
	}

	atts, err := th.saveUploads(c, "attachments")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := th.tasks.Create(c.Request.Context(), p, in, atts)
	if err != nil {
		th.removeStored(atts)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (th *TaskHandler) Update(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	upd := services.TaskUpdate{
		Title:        formString(c, "title"),
		Description:  formString(c, "description"),
		Maker:        formString(c, "maker"),
		Checker:      formString(c, "checker"),
		ValidFrom:    formString(c, "valid_from"),
		Criticality:  formString(c, "criticality"),
		LicenseOwner: formString(c, "license_owner"),
		DisplayedFC:  formString(c, "displayed_fc"),
		RepeatJSON:   formString(c, "repeat"),
	}
	if s := formString(c, "due_date"); s != nil {
		norm := utils.NormalizeDate(*s)
		upd.DueDate = &norm
	}
	if s := formString(c, "category_id"); s != nil {
		upd.CategoryID = formUint(c, "category_id")
	}
	if s := formString(c, "company_id"); s != nil {
		upd.CompanyID = formUint(c, "company_id")
	}
	if s := formString(c, "relevant_fc"); s != nil {
		v := strings.EqualFold(*s, "yes") || *s == "true"
		upd.RelevantFC = &v
	}

	atts, err := th.saveUploads(c, "attachments")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := th.tasks.UpdateFields(c.Request.Context(), p, id, upd, atts)
	if err != nil {
		th.removeStored(atts)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (th *TaskHandler) SetStatus(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	task, err := th.tasks.SetStatus(c.Request.Context(), p, id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (th *TaskHandler) RequestEdit(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := th.tasks.RequestEdit(c.Request.Context(), p, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "edit request sent"})
}

func (th *TaskHandler) Delete(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	stored, err := th.tasks.Delete(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	for _, name := range stored {
		_ = os.Remove(filepath.Join(th.uploads.Dir, name))
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (th *TaskHandler) ListNotes(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	notes, err := th.tasks.Notes(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

func (th *TaskHandler) AddNote(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	text := c.PostForm("text")

	var fileNote *models.Note
	if hdr, err := c.FormFile("file"); err == nil {
		stored, err := th.storeFile(hdr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fileNote = &models.Note{
			FileName:   hdr.Filename,
			FileSize:   hdr.Size,
			FileType:   hdr.Header.Get("Content-Type"),
			StoredName: stored,
		}
	}

	if err := th.tasks.AddNote(c.Request.Context(), p, id, text, fileNote); err != nil {
		if fileNote != nil {
			_ = os.Remove(filepath.Join(th.uploads.Dir, fileNote.StoredName))
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "note added"})
}

func (th *TaskHandler) DeleteAttachment(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	stored, err := th.tasks.DeleteAttachment(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if stored != "" {
		_ = os.Remove(filepath.Join(th.uploads.Dir, stored))
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// DownloadFile serves a stored upload. Stored names are server-generated
// UUIDs, so a path separator in the parameter is always an attack.
func (th *TaskHandler) DownloadFile(c *gin.Context) {
	name := c.Param("name")
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}
	path := filepath.Join(th.uploads.Dir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.File(path)
}

var exportHeader = []string{
	"Title", "Description", "Category", "Location / Site", "Maker", "Checker",
	"Assigned By", "Due Date", "Valid From", "Criticality", "Licence Owner",
	"Relevant FC", "Displayed FC", "Status",
}

// ExportCSV streams the principal's visible obligations as CSV.
func (th *TaskHandler) ExportCSV(c *gin.Context) {
	p := middleware.Principal(c)
	tasks, err := th.tasks.List(c.Request.Context(), p, services.TaskFilter{Tab: c.Query("tab")})
	if err != nil {
		respondError(c, err)
		return
	}

	var b strings.Builder
	b.WriteString(strings.Join(exportHeader, ",") + "\n")
	yesNo := func(v bool) string {
		if v {
			return "Yes"
		}
		return "No"
	}
	for i := range tasks {
		t := &tasks[i]
		category, company := "", ""
		if t.Category != nil {
			category = t.Category.Name
		}
		if t.Company != nil {
			company = t.Company.Name
		}
		row := []string{
			t.Title, t.Description, category, company, t.Maker, t.Checker,
			t.AssignedBy, t.DueDate, t.ValidFrom, t.Criticality, t.LicenseOwner,
			yesNo(t.RelevantFC), t.DisplayedFC, string(t.Status),
		}
		for j := range row {
			row[j] = utils.EscapeCSV(row[j])
		}
		b.WriteString(strings.Join(row, ",") + "\n")
	}

	c.Header("Content-Disposition", `attachment; filename="compliances.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(b.String()))
}

// ImportCSV bulk-creates obligations from an uploaded CSV. Maker and
// checker columns hold emails; unknown emails are registered as viewers,
// unknown categories and locations are created on the fly.
func (th *TaskHandler) ImportCSV(c *gin.Context) {
	p := middleware.Principal(c)
	if !p.IsElevated() {
		respondError(c, services.ErrForbidden)
		return
	}
	hdr, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "csv file required"})
		return
	}
	f, err := hdr.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	created, skipped := 0, 0
	var rowErrors []string
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := utils.ParseCSVLine(line)
		// Title, Description, Category, Location, Maker Email, Checker Email,
		// Due Date, Valid From, Criticality, Licence Owner, Relevant FC, Displayed FC
		if len(fields) < 5 || strings.TrimSpace(fields[0]) == "" {
			skipped++
			continue
		}
		get := func(idx int) string {
			if idx < len(fields) {
				return fields[idx]
			}
			return ""
		}

		in := services.TaskInput{
			Title:        get(0),
			Description:  get(1),
			DueDate:      utils.NormalizeDate(get(6)),
			ValidFrom:    get(7),
			Criticality:  get(8),
			LicenseOwner: get(9),
			RelevantFC:   strings.EqualFold(get(10), "yes"),
			DisplayedFC:  get(11),
			AssignedBy:   p.Name,
		}

		if name := get(2); name != "" {
			cat, err := th.meta.FindOrCreateCategoryByName(c.Request.Context(), name)
			if err == nil {
				in.CategoryID = &cat.ID
			}
		}
		if name := get(3); name != "" {
			comp, err := th.meta.FindOrCreateCompanyByName(c.Request.Context(), name)
			if err == nil {
				in.CompanyID = &comp.ID
			}
		}
		maker, err := th.users.FindOrCreateViewer(c.Request.Context(), get(4))
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: invalid maker email", i+1))
			skipped++
			continue
		}
		in.Maker = maker.Name
		if email := get(5); email != "" {
			if checker, err := th.users.FindOrCreateViewer(c.Request.Context(), email); err == nil {
				in.Checker = checker.Name
			}
		}

		if _, err := th.tasks.Create(c.Request.Context(), p, in, nil); err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", i+1, err))
			skipped++
			continue
		}
		created++
	}

	th.logger.Info("CSV import complete",
		zap.Int("created", created),
		zap.Int("skipped", skipped),
		zap.String("by", p.Email))
	c.JSON(http.StatusOK, gin.H{"created": created, "skipped": skipped, "errors": rowErrors})
}

// formString distinguishes an absent form field from an empty one.
func formString(c *gin.Context, key string) *string {
	if v, ok := c.GetPostForm(key); ok {
		return &v
	}
	return nil
}

func formUint(c *gin.Context, key string) *uint {
	v, ok := c.GetPostForm(key)
	if !ok || v == "" {
		return nil
	}
	var id uint
	if _, err := fmt.Sscanf(v, "%d", &id); err != nil {
		return nil
	}
	return &id
}

func (th *TaskHandler) saveUploads(c *gin.Context, field string) ([]models.Attachment, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil
	}
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}

	var total int64
	for _, hdr := range files {
		if hdr.Size > th.uploads.MaxSingleBytes {
			return nil, fmt.Errorf("file %s exceeds the size limit", hdr.Filename)
		}
		total += hdr.Size
	}
	if total > th.uploads.MaxTotalBytes {
		return nil, fmt.Errorf("attachments exceed the total size limit")
	}

	out := make([]models.Attachment, 0, len(files))
	for _, hdr := range files {
		stored, err := th.storeFile(hdr)
		if err != nil {
			th.removeStored(out)
			return nil, err
		}
		out = append(out, models.Attachment{
			FileName:   hdr.Filename,
			FileSize:   hdr.Size,
			FileType:   hdr.Header.Get("Content-Type"),
			StoredName: stored,
		})
	}
	return out, nil
}

func (th *TaskHandler) storeFile(hdr *multipart.FileHeader) (string, error) {
	if hdr.Size > th.uploads.MaxSingleBytes {
		return "", fmt.Errorf("file %s exceeds the size limit", hdr.Filename)
	}
	if err := os.MkdirAll(th.uploads.Dir, 0o755); err != nil {
		return "", err
	}
	stored := uuid.NewString() + filepath.Ext(hdr.Filename)
	dst := filepath.Join(th.uploads.Dir, stored)

	src, err := hdr.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := out.ReadFrom(src); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return stored, nil
}

func (th *TaskHandler) removeStored(atts []models.Attachment) {
	for _, a := range atts {
		if a.StoredName != "" {
			_ = os.Remove(filepath.Join(th.uploads.Dir, a.StoredName))
		}
	}
}
