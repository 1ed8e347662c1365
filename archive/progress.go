package archive

// ProgressEvent represents a progress update during batch operations.
type ProgressEvent struct {
	// Stage identifies the current operation.
	Stage ProgressStage

	// Path is the file currently being processed, if applicable.
	Path string

	// BytesDone is the number of content bytes handled so far.
	BytesDone uint64

	// FilesDone is the number of files handled so far.
	FilesDone int

	// FilesTotal is the total number of files.
	// Zero indicates the total is unknown (e.g., while walking a directory).
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

const (
	// StagePacking indicates files are being inserted from a directory.
	StagePacking ProgressStage = iota

	// StageUnpacking indicates entries are being written to a directory.
	StageUnpacking

	// StageMerging indicates entries are being copied from another archive.
	StageMerging

	// StageRebuilding indicates live blobs are being compacted.
	StageRebuilding
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StagePacking:
		return "packing"
	case StageUnpacking:
		return "unpacking"
	case StageMerging:
		return "merging"
	case StageRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates.
type ProgressFunc func(ProgressEvent)

func (a *Archive) reportProgress(stage ProgressStage, path string, bytesDone uint64, filesDone, filesTotal int) {
	if a.progress == nil {
		return
	}
	a.progress(ProgressEvent{
		Stage:      stage,
		Path:       path,
		BytesDone:  bytesDone,
		FilesDone:  filesDone,
		FilesTotal: filesTotal,
	})
}
