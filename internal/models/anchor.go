package models

// Anchor is a link as rendered in the browser.
type Anchor struct {
	Text       string `json:"text"`
	Href       string `json:"href"`
	Visible    bool   `json:"visible"`
	Code       string `json:"code"`
	NoticeType string `json:"noticeType"`
}
