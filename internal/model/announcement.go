package model

import "time"

// Announcement はポータルのお知らせを表す。
// Bodyはサニタイズ済みHTMLとして保存される。
type Announcement struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
