package models

// Task represents a geocoding task with an ID and an associated address.
type Task struct {
	ID      int    // ID is the unique identifier for the task.
	Address string // Address is the location to be geocoded.
}

// Match is a geocoded task returned by a batch provider.
type Match struct {
	TaskID      int         // TaskID is the ID of the task the match belongs to.
	Coordinates Coordinates // Coordinates of the matched location.
	Address     string      // Address is the address the provider matched against.
	Score       float64     // Score is the provider's match confidence, 0 to 100.
}
