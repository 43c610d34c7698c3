package models

import "time"

// FileAsset tracks per-file delivery bookkeeping for file-type purchases.
type FileAsset struct {
	ID            string    `gorm:"column:id;primary_key;type:varchar(64)" json:"id"`
	DownloadCount int64     `gorm:"column:download_count;type:bigint;not null;default:0" json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (FileAsset) TableName() string { return "file_asset" }
