package database

import "time"

// Download is one finished download request as stored in share_downloads.
type Download struct {
	ID               string
	Name             string
	Archive          bool
	BytesTransferred int64
	TotalBytes       int64
	Completed        bool
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Stats holds aggregate download statistics across all shares.
type Stats struct {
	TotalDownloads     int64
	CompletedDownloads int64
	CanceledDownloads  int64
	BytesServed        int64
}
