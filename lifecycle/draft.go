// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package lifecycle

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/models"
)

// Draft field limits
const (
	MaxTitleLen             = 200
	MaxDescriptionLen       = 1000
	MaxOptionLabelLen       = 100
	MaxOptionDescriptionLen = 500
	MinDuration             = time.Hour
)

func invalid(msg string) error {
	return apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, msg)
}

// ValidateDraft checks a draft request and returns the normalised draft.
func ValidateDraft(req models.CreateDraftRequest, now time.Time) (models.Draft, error) {
	title := strings.TrimSpace(req.Title)
	switch {
	case title == "":
		return models.Draft{}, invalid("title is required")
	case utf8.RuneCountInString(title) > MaxTitleLen:
		return models.Draft{}, invalid("title must be 200 characters or less")
	case utf8.RuneCountInString(req.Description) > MaxDescriptionLen:
		return models.Draft{}, invalid("description must be 1000 characters or less")
	}

	if len(req.Options) < models.MinOptions || len(req.Options) > models.MaxOptions {
		return models.Draft{}, invalid("poll must have between 2 and 10 options")
	}
	opts := make([]models.Option, len(req.Options))
	for i, o := range req.Options {
		label := strings.TrimSpace(o.Label)
		switch {
		case o.Idx != i:
			return models.Draft{}, invalid("option indexes must run 0..N-1 in order")
		case label == "":
			return models.Draft{}, invalid("all options must have non-empty labels")
		case utf8.RuneCountInString(label) > MaxOptionLabelLen:
			return models.Draft{}, invalid("option label must be 100 characters or less")
		case utf8.RuneCountInString(o.Description) > MaxOptionDescriptionLen:
			return models.Draft{}, invalid("option description must be 500 characters or less")
		}
		opts[i] = models.Option{Idx: i, Label: label, Description: o.Description, MediaURI: o.MediaURI}
	}

	switch {
	case req.StartTS < now.Unix():
		return models.Draft{}, invalid("start time must be in the future")
	case req.EndTS <= req.StartTS:
		return models.Draft{}, invalid("end time must be after start time")
	case req.EndTS-req.StartTS < int64(MinDuration/time.Second):
		return models.Draft{}, invalid("poll must run for at least 1 hour")
	}

	if !strings.HasPrefix(req.CreatedBy, "0x") || !common.IsHexAddress(req.CreatedBy) {
		return models.Draft{}, invalid("created_by must be a 0x-prefixed wallet address")
	}

	return models.Draft{
		Title:       title,
		Description: req.Description,
		Options:     opts,
		StartTS:     req.StartTS,
		EndTS:       req.EndTS,
		Status:      models.StatusDraft,
		CreatedBy:   common.HexToAddress(req.CreatedBy),
		CreatedAt:   now.Unix(),
		UpdatedAt:   now.Unix(),
	}, nil
}
