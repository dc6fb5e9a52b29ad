package domain

type LoadState string

const (
	LoadNone    LoadState = ""
	LoadLoading LoadState = "loading"
	LoadLoaded  LoadState = "loaded"
	LoadError   LoadState = "error"
)
