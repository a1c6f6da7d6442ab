package storage

// NewJSONRepository opens the JSON file store and returns it behind the
// Repository interface.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	store, err := NewStorage(path, opts...)
	if err != nil {
		return nil, err
	}
	return store, nil
}
