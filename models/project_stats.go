package models

// ProjectStats stores the like/share/view counters of one project.
// ID has no declared size: it is text on Postgres and SQLite, varchar(191) on MySQL.
type ProjectStats struct {
	ID     string `gorm:"primaryKey" json:"id"`
	Likes  int64  `gorm:"not null;default:0" json:"likes"`
	Shares int64  `gorm:"not null;default:0" json:"shares"`
	Views  int64  `gorm:"not null;default:0" json:"views"`
}

// TableName keeps the table name used by the existing deployment.
func (ProjectStats) TableName() string {
	return "project_likes"
}
