package data_model

// TableName maps user facing table names to their model type.
func TableName(name string) any {
	switch name {
	case "images":
		return &ImageEntry{}
	}
	return nil
}
