// Package notify provides a platform-independent interface for file system
// change notifications: a common event model, one implementation of the
// Watcher capability per supported platform (inotify, FSEvents, kqueue,
// ReadDirectoryChangesW, and a portable polling fallback), and a debouncer
// that collapses bursts of raw events into stable per-path summaries.
package notify

import (
	"fmt"
	"strings"
)

// Major is the top-level branch of an EventKind.
type Major uint8

// These are the top-level branches every EventKind falls into.
const (
	Any Major = iota
	Access
	Create
	Modify
	Remove
	Other
)

func (m Major) String() string {
	switch m {
	case Any:
		return "any"
	case Access:
		return "access"
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Remove:
		return "remove"
	case Other:
		return "other"
	default:
		return "unknown"
	}
}

// AccessKind refines an Access event.
type AccessKind uint8

const (
	AccessAny AccessKind = iota
	AccessRead
	AccessOpen
	AccessClose
	AccessOther
)

func (k AccessKind) String() string {
	switch k {
	case AccessAny:
		return "any"
	case AccessRead:
		return "read"
	case AccessOpen:
		return "open"
	case AccessClose:
		return "close"
	case AccessOther:
		return "other"
	default:
		return "unknown"
	}
}

// Mode qualifies an AccessOpen or AccessClose event: which file mode
// triggered it.
type Mode uint8

const (
	ModeAny Mode = iota
	ModeExecute
	ModeRead
	ModeWrite
	ModeOther
)

func (m Mode) String() string {
	switch m {
	case ModeAny:
		return "any"
	case ModeExecute:
		return "execute"
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeOther:
		return "other"
	default:
		return "unknown"
	}
}

// CreateKind refines a Create event.
type CreateKind uint8

const (
	CreateAny CreateKind = iota
	CreateFile
	CreateFolder
	CreateOther
)

func (k CreateKind) String() string {
	switch k {
	case CreateAny:
		return "any"
	case CreateFile:
		return "file"
	case CreateFolder:
		return "folder"
	case CreateOther:
		return "other"
	default:
		return "unknown"
	}
}

// ModifyKind selects which payload of a Modify event is populated.
type ModifyKind uint8

const (
	ModifyAny ModifyKind = iota
	ModifyData
	ModifyMetadata
	ModifyName
	ModifyOther
)

// DataChange refines a Modify(Data) event.
type DataChange uint8

const (
	DataAny DataChange = iota
	DataSize
	DataContent
	DataOther
)

func (d DataChange) String() string {
	switch d {
	case DataAny:
		return "any"
	case DataSize:
		return "size"
	case DataContent:
		return "content"
	case DataOther:
		return "other"
	default:
		return "unknown"
	}
}

// MetadataKind refines a Modify(Metadata) event.
type MetadataKind uint8

const (
	MetaAny MetadataKind = iota
	MetaAccessTime
	MetaWriteTime
	MetaPermissions
	MetaOwnership
	MetaExtended
	MetaOther
)

func (m MetadataKind) String() string {
	switch m {
	case MetaAny:
		return "any"
	case MetaAccessTime:
		return "access-time"
	case MetaWriteTime:
		return "write-time"
	case MetaPermissions:
		return "permissions"
	case MetaOwnership:
		return "ownership"
	case MetaExtended:
		return "extended"
	case MetaOther:
		return "other"
	default:
		return "unknown"
	}
}

// RenameMode refines a Modify(Name) event.
type RenameMode uint8

const (
	RenameAny RenameMode = iota
	RenameFrom
	RenameTo
	RenameBoth
	RenameOther
)

func (r RenameMode) String() string {
	switch r {
	case RenameAny:
		return "any"
	case RenameFrom:
		return "from"
	case RenameTo:
		return "to"
	case RenameBoth:
		return "both"
	case RenameOther:
		return "other"
	default:
		return "unknown"
	}
}

// RemoveKind refines a Remove event.
type RemoveKind uint8

const (
	RemoveAny RemoveKind = iota
	RemoveFile
	RemoveFolder
	RemoveOther
)

func (k RemoveKind) String() string {
	switch k {
	case RemoveAny:
		return "any"
	case RemoveFile:
		return "file"
	case RemoveFolder:
		return "folder"
	case RemoveOther:
		return "other"
	default:
		return "unknown"
	}
}

// EventKind is a closed, hierarchical tag describing one filesystem change.
// It is a value type; construct one with the Kind* functions below rather
// than composing the zero value by hand, since which fields are meaningful
// depends on Major.
type EventKind struct {
	major Major

	access     AccessKind
	accessMode Mode

	create CreateKind

	modify ModifyKind
	data   DataChange
	meta   MetadataKind
	rename RenameMode

	remove RemoveKind
}

// KindAny is the wildcard top-level kind.
func KindAny() EventKind { return EventKind{major: Any} }

// KindOther is the catch-all top-level kind for events that don't fit
// elsewhere (e.g. a dropped-events rescan marker).
func KindOther() EventKind { return EventKind{major: Other} }

// KindAccessAny, KindAccessRead, KindAccessOpen, KindAccessClose and
// KindAccessOther construct the Access branch and its subkinds.
func KindAccessAny() EventKind   { return EventKind{major: Access, access: AccessAny} }
func KindAccessRead() EventKind  { return EventKind{major: Access, access: AccessRead} }
func KindAccessOther() EventKind { return EventKind{major: Access, access: AccessOther} }
func KindAccessOpen(mode Mode) EventKind {
	return EventKind{major: Access, access: AccessOpen, accessMode: mode}
}
func KindAccessClose(mode Mode) EventKind {
	return EventKind{major: Access, access: AccessClose, accessMode: mode}
}

// KindCreateAny, KindCreateFile, KindCreateFolder and KindCreateOther
// construct the Create branch and its subkinds.
func KindCreateAny() EventKind    { return EventKind{major: Create, create: CreateAny} }
func KindCreateFile() EventKind   { return EventKind{major: Create, create: CreateFile} }
func KindCreateFolder() EventKind { return EventKind{major: Create, create: CreateFolder} }
func KindCreateOther() EventKind  { return EventKind{major: Create, create: CreateOther} }

// KindModifyAny, KindModifyData, KindModifyMetadata, KindModifyName and
// KindModifyOther construct the Modify branch and its subkinds.
func KindModifyAny() EventKind { return EventKind{major: Modify, modify: ModifyAny} }
func KindModifyData(d DataChange) EventKind {
	return EventKind{major: Modify, modify: ModifyData, data: d}
}
func KindModifyMetadata(m MetadataKind) EventKind {
	return EventKind{major: Modify, modify: ModifyMetadata, meta: m}
}
func KindModifyName(r RenameMode) EventKind {
	return EventKind{major: Modify, modify: ModifyName, rename: r}
}
func KindModifyOther() EventKind { return EventKind{major: Modify, modify: ModifyOther} }

// KindRemoveAny, KindRemoveFile, KindRemoveFolder and KindRemoveOther
// construct the Remove branch and its subkinds.
func KindRemoveAny() EventKind    { return EventKind{major: Remove, remove: RemoveAny} }
func KindRemoveFile() EventKind   { return EventKind{major: Remove, remove: RemoveFile} }
func KindRemoveFolder() EventKind { return EventKind{major: Remove, remove: RemoveFolder} }
func KindRemoveOther() EventKind  { return EventKind{major: Remove, remove: RemoveOther} }

// Major returns the top-level branch of k.
func (k EventKind) Major() Major { return k.major }

// IsCreate reports whether k's top-level branch is Create.
func (k EventKind) IsCreate() bool { return k.major == Create }

// IsRemove reports whether k's top-level branch is Remove.
func (k EventKind) IsRemove() bool { return k.major == Remove }

// IsModify reports whether k's top-level branch is Modify.
func (k EventKind) IsModify() bool { return k.major == Modify }

// IsAccess reports whether k's top-level branch is Access.
func (k EventKind) IsAccess() bool { return k.major == Access }

// IsOther reports whether k's top-level branch is Other.
func (k EventKind) IsOther() bool { return k.major == Other }

// IsRenameFrom reports whether k is Modify(Name(From)).
func (k EventKind) IsRenameFrom() bool {
	return k.major == Modify && k.modify == ModifyName && k.rename == RenameFrom
}

// IsRenameTo reports whether k is Modify(Name(To)).
func (k EventKind) IsRenameTo() bool {
	return k.major == Modify && k.modify == ModifyName && k.rename == RenameTo
}

// IsRenameBoth reports whether k is Modify(Name(Both)).
func (k EventKind) IsRenameBoth() bool {
	return k.major == Modify && k.modify == ModifyName && k.rename == RenameBoth
}

// CreateKind returns the Create subkind; meaningful only when Major == Create.
func (k EventKind) CreateKind() CreateKind { return k.create }

// RemoveKind returns the Remove subkind; meaningful only when Major == Remove.
func (k EventKind) RemoveKind() RemoveKind { return k.remove }

// AccessKind returns the Access subkind; meaningful only when Major == Access.
func (k EventKind) AccessKind() AccessKind { return k.access }

// AccessMode returns the open/close mode of an Access event; meaningful only
// when AccessKind is AccessOpen or AccessClose.
func (k EventKind) AccessMode() Mode { return k.accessMode }

// ModifyKind returns the Modify subkind; meaningful only when Major == Modify.
func (k EventKind) ModifyKind() ModifyKind { return k.modify }

// DataChange returns the data-change subkind; meaningful only when
// ModifyKind == ModifyData.
func (k EventKind) DataChange() DataChange { return k.data }

// MetadataKind returns the metadata subkind; meaningful only when
// ModifyKind == ModifyMetadata.
func (k EventKind) MetadataKind() MetadataKind { return k.meta }

// RenameMode returns the rename subkind; meaningful only when
// ModifyKind == ModifyName.
func (k EventKind) RenameMode() RenameMode { return k.rename }

// String returns a human-readable rendering of k, e.g. "modify(name:both)".
func (k EventKind) String() string {
	switch k.major {
	case Access:
		switch k.access {
		case AccessOpen, AccessClose:
			return fmt.Sprintf("access(%s:%s)", k.access, k.accessMode)
		default:
			return fmt.Sprintf("access(%s)", k.access)
		}
	case Create:
		return fmt.Sprintf("create(%s)", k.create)
	case Modify:
		switch k.modify {
		case ModifyData:
			return fmt.Sprintf("modify(data:%s)", k.data)
		case ModifyMetadata:
			return fmt.Sprintf("modify(metadata:%s)", k.meta)
		case ModifyName:
			return fmt.Sprintf("modify(name:%s)", k.rename)
		default:
			return "modify(any)"
		}
	case Remove:
		return fmt.Sprintf("remove(%s)", k.remove)
	case Other:
		return "other"
	default:
		return "any"
	}
}

// Flag is an out-of-band signal attached to an event via EventAttributes.
type Flag uint8

const (
	// FlagNone means no flag is set.
	FlagNone Flag = iota
	// FlagRescan signals that raw events may have been dropped and the
	// caller must re-read state from scratch.
	FlagRescan
	// FlagOngoing marks a debounced event whose window never quiesced.
	FlagOngoing
)

func (f Flag) String() string {
	switch f {
	case FlagRescan:
		return "rescan"
	case FlagOngoing:
		return "ongoing"
	default:
		return ""
	}
}

// EventAttributes is a small optional record of side-channel metadata. It is
// deliberately a fixed set of fields rather than a heterogeneous map, so that
// callers never need type assertions to read it.
type EventAttributes struct {
	// Tracker pairs related rename events; nil when the backend doesn't
	// supply one.
	Tracker *uint32
	// Flag is FlagNone unless the backend is signalling a rescan or an
	// ongoing debounce window.
	Flag Flag
	// Info is a short free-text detail not expressible as a tag, e.g.
	// "unmount" or "watch-evicted".
	Info string
	// Source identifies the backend that produced the event, e.g.
	// "inotify" or "poll".
	Source string
}

// WithTracker returns a is a copy of a with Tracker set to cookie.
func (a EventAttributes) WithTracker(cookie uint32) EventAttributes {
	a.Tracker = &cookie
	return a
}

// HasTracker reports whether a carries a rename-pairing cookie.
func (a EventAttributes) HasTracker() bool { return a.Tracker != nil }

// Event represents a single, classified filesystem change.
type Event struct {
	Kind  EventKind
	Paths []string
	Attrs EventAttributes
}

// NewEvent builds an Event for a single path with no attributes.
func NewEvent(kind EventKind, path string) Event {
	return Event{Kind: kind, Paths: []string{path}}
}

// NewRenameBoth builds the combined Modify(Name(Both)) event for a rename
// pair, with from at index 0 and to at index 1, per the model's ordering
// invariant.
func NewRenameBoth(from, to string, tracker uint32) Event {
	return Event{
		Kind:  KindModifyName(RenameBoth),
		Paths: []string{from, to},
		Attrs: EventAttributes{}.WithTracker(tracker),
	}
}

// Path returns the event's first path, or "" if it has none.
func (e Event) Path() string {
	if len(e.Paths) == 0 {
		return ""
	}
	return e.Paths[0]
}

// String renders the event for logs and debugging.
func (e Event) String() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(strings.Join(e.Paths, " -> "))
	if e.Attrs.Flag != FlagNone {
		fmt.Fprintf(&b, " [%s]", e.Attrs.Flag)
	}
	if e.Attrs.HasTracker() {
		fmt.Fprintf(&b, " tracker=%d", *e.Attrs.Tracker)
	}
	if e.Attrs.Info != "" {
		fmt.Fprintf(&b, " info=%q", e.Attrs.Info)
	}
	if e.Attrs.Source != "" {
		fmt.Fprintf(&b, " source=%s", e.Attrs.Source)
	}
	return b.String()
}

// Equal reports whether e and other carry the same kind, paths (in order)
// and attributes, as required by the model's equality/hashing invariant.
func (e Event) Equal(other Event) bool {
	if e.Kind != other.Kind {
		return false
	}
	if len(e.Paths) != len(other.Paths) {
		return false
	}
	for i := range e.Paths {
		if e.Paths[i] != other.Paths[i] {
			return false
		}
	}
	if e.Attrs.Flag != other.Attrs.Flag || e.Attrs.Info != other.Attrs.Info || e.Attrs.Source != other.Attrs.Source {
		return false
	}
	switch {
	case e.Attrs.Tracker == nil && other.Attrs.Tracker == nil:
		return true
	case e.Attrs.Tracker == nil || other.Attrs.Tracker == nil:
		return false
	default:
		return *e.Attrs.Tracker == *other.Attrs.Tracker
	}
}
