package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// maxVersionAttempts bounds retries when two writers race for the same
// (group, version) pair and the unique index rejects the loser.
const maxVersionAttempts = 3

type sessionRow struct {
	ID          string    `gorm:"primaryKey;size:36"`
	UserID      string    `gorm:"size:64;not null;index"`
	ProjectID   *string   `gorm:"size:64"`
	Title       string    `gorm:"size:200;not null"`
	SessionType string    `gorm:"size:32;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null;index"`
}

func (sessionRow) TableName() string { return "chat_sessions" }

type messageRow struct {
	ID          string    `gorm:"primaryKey;size:36"`
	SessionID   string    `gorm:"size:36;not null;index:idx_chat_messages_session_created,priority:1"`
	Role        string    `gorm:"size:16;not null"`
	Content     *string   `gorm:"type:text"`
	MessageType string    `gorm:"size:16;not null"`
	IsArtifact  bool      `gorm:"not null"`
	ArtifactID  *string   `gorm:"size:36"`
	CreatedAt   time.Time `gorm:"not null;index:idx_chat_messages_session_created,priority:2"`
}

func (messageRow) TableName() string { return "chat_messages" }

type artifactRow struct {
	ID           string         `gorm:"primaryKey;size:36"`
	GroupID      string         `gorm:"column:artifact_group_id;size:36;not null;uniqueIndex:idx_artifacts_group_version,priority:1"`
	Version      int            `gorm:"not null;uniqueIndex:idx_artifacts_group_version,priority:2"`
	SessionID    string         `gorm:"size:36;not null;index"`
	Title        string         `gorm:"size:300;not null"`
	TemplateData datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null;index"`
}

func (artifactRow) TableName() string { return "artifacts" }

type projectRow struct {
	ID             string         `gorm:"primaryKey;size:64"`
	UserID         string         `gorm:"size:64;not null;index"`
	Name           string         `gorm:"size:200;not null"`
	Description    string         `gorm:"type:text"`
	TargetAudience string         `gorm:"type:text"`
	ResearchGoals  datatypes.JSON
}

func (projectRow) TableName() string { return "projects" }

// GormStore implements Store on a relational database through gorm.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to Postgres and migrates the chat tables.
func OpenPostgres(dsn string) (*GormStore, error) {
	return openGorm(postgres.Open(dsn))
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(path string) (*GormStore, error) {
	return openGorm(sqlite.Open(path))
}

func openGorm(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.AutoMigrate(&sessionRow{}, &messageRow{}, &artifactRow{}, &projectRow{}); err != nil {
		return nil, fmt.Errorf("migrating tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) CreateSession(ctx context.Context, sess *Session) error {
	return s.db.WithContext(ctx).Create(&sessionRow{
		ID:          sess.ID,
		UserID:      sess.UserID,
		ProjectID:   sess.ProjectID,
		Title:       sess.Title,
		SessionType: sess.SessionType,
		CreatedAt:   sess.CreatedAt,
		UpdatedAt:   sess.UpdatedAt,
	}).Error
}

func (s *GormStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	sess := row.toSession()
	return &sess, nil
}

func (s *GormStore) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSession())
	}
	return out, nil
}

func (s *GormStore) UpdateSessionTitle(ctx context.Context, id, title string) error {
	res := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&artifactRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&sessionRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) AddMessage(ctx context.Context, m *Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&sessionRow{}).Where("id = ?", m.SessionID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("session %s: %w", m.SessionID, ErrNotFound)
		}
		if err := tx.Create(&messageRow{
			ID:          m.ID,
			SessionID:   m.SessionID,
			Role:        m.Role,
			Content:     m.Content,
			MessageType: m.Kind,
			IsArtifact:  m.IsArtifact,
			ArtifactID:  m.ArtifactID,
			CreatedAt:   m.CreatedAt,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&sessionRow{}).
			Where("id = ? AND updated_at < ?", m.SessionID, m.CreatedAt).
			UpdateColumn("updated_at", m.CreatedAt).Error
	})
}

func (s *GormStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var rows []messageRow
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, Message{
			ID:         r.ID,
			SessionID:  r.SessionID,
			Role:       r.Role,
			Content:    r.Content,
			Kind:       r.MessageType,
			IsArtifact: r.IsArtifact,
			ArtifactID: r.ArtifactID,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&messageRow{}).Where("session_id = ?", sessionID).Count(&n).Error
	return int(n), err
}

func (s *GormStore) InsertArtifact(ctx context.Context, a *Artifact) error {
	return s.db.WithContext(ctx).Create(toArtifactRow(a)).Error
}

func (s *GormStore) AppendArtifactVersion(ctx context.Context, a *Artifact) error {
	var err error
	for range maxVersionAttempts {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current int
			if err := tx.Model(&artifactRow{}).
				Select("COALESCE(MAX(version), 0)").
				Where("artifact_group_id = ? AND session_id = ?", a.GroupID, a.SessionID).
				Scan(&current).Error; err != nil {
				return err
			}
			if current == 0 {
				return ErrNotFound
			}
			a.Version = current + 1
			return tx.Create(toArtifactRow(a)).Error
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return fmt.Errorf("artifact %s: version conflict after %d attempts: %w", a.GroupID, maxVersionAttempts, err)
}

func (s *GormStore) GetArtifact(ctx context.Context, rowID string) (*Artifact, error) {
	var row artifactRow
	if err := s.db.WithContext(ctx).Where("id = ?", rowID).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	a := row.toArtifact()
	return &a, nil
}

func (s *GormStore) LatestArtifact(ctx context.Context, groupID string) (*Artifact, error) {
	var row artifactRow
	if err := s.db.WithContext(ctx).
		Where("artifact_group_id = ?", groupID).
		Order("version DESC").
		First(&row).Error; err != nil {
		return nil, translate(err)
	}
	a := row.toArtifact()
	return &a, nil
}

func (s *GormStore) ListArtifacts(ctx context.Context, sessionID string) ([]Artifact, error) {
	var rows []artifactRow
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Artifact, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toArtifact())
	}
	return out, nil
}

func (s *GormStore) GetProject(ctx context.Context, id, userID string) (*Project, error) {
	var row projectRow
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&row).Error; err != nil {
		return nil, translate(err)
	}
	p := &Project{
		ID:             row.ID,
		UserID:         row.UserID,
		Name:           row.Name,
		Description:    row.Description,
		TargetAudience: row.TargetAudience,
	}
	if len(row.ResearchGoals) > 0 {
		if err := json.Unmarshal(row.ResearchGoals, &p.ResearchGoals); err != nil {
			return nil, fmt.Errorf("project %s research goals: %w", id, err)
		}
	}
	return p, nil
}

// PutProject upserts project context for local databases.
func (s *GormStore) PutProject(ctx context.Context, p Project) error {
	goals, err := json.Marshal(p.ResearchGoals)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&projectRow{
		ID:             p.ID,
		UserID:         p.UserID,
		Name:           p.Name,
		Description:    p.Description,
		TargetAudience: p.TargetAudience,
		ResearchGoals:  datatypes.JSON(goals),
	}).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r sessionRow) toSession() Session {
	return Session{
		ID:          r.ID,
		UserID:      r.UserID,
		ProjectID:   r.ProjectID,
		Title:       r.Title,
		SessionType: r.SessionType,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toArtifactRow(a *Artifact) *artifactRow {
	return &artifactRow{
		ID:           a.ID,
		GroupID:      a.GroupID,
		Version:      a.Version,
		SessionID:    a.SessionID,
		Title:        a.Title,
		TemplateData: datatypes.JSON(a.Document),
		CreatedAt:    a.CreatedAt,
	}
}

func (r artifactRow) toArtifact() Artifact {
	return Artifact{
		ID:        r.ID,
		GroupID:   r.GroupID,
		SessionID: r.SessionID,
		Title:     r.Title,
		Version:   r.Version,
		Document:  json.RawMessage(r.TemplateData),
		CreatedAt: r.CreatedAt,
	}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
