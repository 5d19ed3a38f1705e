package models

import (
	"time"
)

// Product is a catalog entry addressed by its ProductCode business key
type Product struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	ProductCode      string     `json:"codiceProdotto" gorm:"column:product_code;not null;uniqueIndex"`
	EAN              *string    `json:"codiceEAN,omitempty" gorm:"column:ean"`
	Title            string     `json:"titolo" gorm:"column:title;not null"`
	Image            *string    `json:"immagine,omitempty" gorm:"column:image"`
	URL              *string    `json:"url,omitempty" gorm:"column:url"`
	Stock            int        `json:"stock" gorm:"column:stock;not null;default:0"`
	Description      *string    `json:"descrizione,omitempty" gorm:"column:description;type:text"`
	ShortDescription *string    `json:"descrizioneBreve,omitempty" gorm:"column:short_description;type:text"`
	Status           *string    `json:"stato,omitempty" gorm:"column:status"`
	Price            float64    `json:"prezzo" gorm:"column:price;type:numeric(12,2);not null"`
	Categories       []Category `json:"categorie,omitempty" gorm:"many2many:product_categories;"`
	CreatedAt        time.Time  `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt        time.Time  `json:"updatedAt" gorm:"column:updated_at"`
}

// TableName specifies the table name for Product
func (Product) TableName() string {
	return "products"
}

// Category groups products; names are unique ignoring case
type Category struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"column:name;not null"`
	ParentID  *uint     `json:"parentId,omitempty" gorm:"column:parent_id"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

// TableName specifies the table name for Category
func (Category) TableName() string {
	return "categories"
}

// JSON is a free-form details object for error payloads
type JSON map[string]interface{}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     Error  `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Details *JSON  `json:"details,omitempty"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
