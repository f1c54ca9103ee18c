package enums

import "fmt"

// NoticeKind maps to the notice_kind_enum enum in Postgres.
type NoticeKind string

const (
	NoticeOverdue      NoticeKind = "overdue"
	NoticeFineAssessed NoticeKind = "fine_assessed"
	NoticeAssetLost    NoticeKind = "asset_lost"
	NoticeFineWaived   NoticeKind = "fine_waived"
)

var validNoticeKinds = []NoticeKind{
	NoticeOverdue,
	NoticeFineAssessed,
	NoticeAssetLost,
	NoticeFineWaived,
}

// IsValid reports whether the value matches the canonical notice kind enum.
func (n NoticeKind) IsValid() bool {
	for _, candidate := range validNoticeKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNoticeKind converts raw strings into NoticeKind.
func ParseNoticeKind(value string) (NoticeKind, error) {
	for _, candidate := range validNoticeKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notice kind %q", value)
}
