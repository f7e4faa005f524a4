package indexes

type ExistingIndex = existingIndex

var (
	ListExisting = listExisting
	SameOptions  = sameOptions
)
