package models

import "time"

// TagMessage is the notification text sent to every tagged user.
const TagMessage = "You just got tagged in this post"

type Post struct {
	ID                int64
	UserID            int64
	Content           string
	ImageName         string
	DetectionRecordID *string
	CreatedAt         time.Time
}

type Tag struct {
	ID       int64
	UserID   int64
	PostID   int64
	TaggedAt time.Time
}

type Notification struct {
	ID        int64
	UserID    int64
	PostID    int64
	Message   string
	IsRead    bool
	CreatedAt time.Time
}
