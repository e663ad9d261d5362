package category

type CategoryResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CategoriesResponse struct {
	Categories []CategoryResponse `json:"categories"`
}

func (r CategoriesResponse) ToCategories() []Category {
	out := make([]Category, len(r.Categories))
	for i, c := range r.Categories {
		out[i] = Category{ID: c.ID, Name: c.Name, Description: c.Description, IsActive: true}
	}
	return out
}
