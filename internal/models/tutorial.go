package models

import (
	"time"

	"github.com/learnlens/backend/pkg/docstore"
)

// Tutorial is a published YouTube-linked tutorial. Immutable except delete.
type Tutorial struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	TechnicalDescription string    `json:"technicalDescription"`
	VideoURL             string    `json:"videoUrl"`
	OwnerID              string    `json:"ownerId"`
	OwnerName            string    `json:"ownerName"`
	CreatedAt            time.Time `json:"createdAt"`
}

// TutorialFromDocument decodes a tutorials/{id} document.
func TutorialFromDocument(d *docstore.Document) Tutorial {
	id := d.Data.String("id")
	if id == "" {
		id = d.ID
	}
	return Tutorial{
		ID:                   id,
		Title:                d.Data.String("title"),
		Description:          d.Data.String("description"),
		TechnicalDescription: d.Data.String("technicalDescription"),
		VideoURL:             d.Data.String("videoUrl"),
		OwnerID:              d.Data.String("ownerId"),
		OwnerName:            d.Data.String("ownerName"),
		CreatedAt:            d.Data.Time("createdAt"),
	}
}

// Fields encodes t for storage.
func (t Tutorial) Fields() docstore.Fields {
	return docstore.Fields{
		"id":                   t.ID,
		"title":                t.Title,
		"description":          t.Description,
		"technicalDescription": t.TechnicalDescription,
		"videoUrl":             t.VideoURL,
		"ownerId":              t.OwnerID,
		"ownerName":            t.OwnerName,
		"createdAt":            t.CreatedAt,
	}
}
