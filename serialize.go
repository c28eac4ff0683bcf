package notify

import (
	"encoding/json"
	"fmt"
)

// EventKind's wire shape: a bare string for the two leaf variants that carry
// no payload (Any, Other), otherwise a single-key object whose key is the
// major branch's tag — "access"/"create"/"modify"/"remove" — except
// Modify(Name), which serializes under "rename" instead of nesting a "name"
// kind inside "modify", so consumers that only care about renames don't need
// to reach two levels deep to find them. The object's value carries "kind"
// (the subkind, when there is one) and "mode" (a further-nested enum's own
// variant: Access's open/close qualifier, or Modify(Data)/Modify(Metadata)/
// Modify(Name)'s subkind).
type wireKindPayload struct {
	Kind string `json:"kind,omitempty"`
	Mode string `json:"mode,omitempty"`
}

// MarshalJSON renders k as the tagged shape described above.
func (k EventKind) MarshalJSON() ([]byte, error) {
	switch k.major {
	case Any:
		return json.Marshal("any")
	case Other:
		return json.Marshal("other")
	case Access:
		payload := wireKindPayload{Kind: k.access.String()}
		if k.access == AccessOpen || k.access == AccessClose {
			payload.Mode = k.accessMode.String()
		}
		return json.Marshal(map[string]wireKindPayload{"access": payload})
	case Create:
		return json.Marshal(map[string]wireKindPayload{"create": {Kind: k.create.String()}})
	case Modify:
		switch k.modify {
		case ModifyName:
			return json.Marshal(map[string]wireKindPayload{"rename": {Mode: k.rename.String()}})
		case ModifyData:
			return json.Marshal(map[string]wireKindPayload{"modify": {Kind: "data", Mode: k.data.String()}})
		case ModifyMetadata:
			return json.Marshal(map[string]wireKindPayload{"modify": {Kind: "metadata", Mode: k.meta.String()}})
		case ModifyOther:
			return json.Marshal(map[string]wireKindPayload{"modify": {Kind: "other"}})
		default:
			return json.Marshal(map[string]wireKindPayload{"modify": {Kind: "any"}})
		}
	case Remove:
		return json.Marshal(map[string]wireKindPayload{"remove": {Kind: k.remove.String()}})
	default:
		return json.Marshal("any")
	}
}

// UnmarshalJSON parses the tagged shape produced by MarshalJSON: either one
// of the two bare-string leaves, or a single-key object naming the major
// branch.
func (k *EventKind) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		switch tag {
		case "any":
			*k = KindAny()
			return nil
		case "other":
			*k = KindOther()
			return nil
		default:
			return fmt.Errorf("notify: unknown event kind %q", tag)
		}
	}

	var obj map[string]wireKindPayload
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if len(obj) != 1 {
		return fmt.Errorf("notify: event kind object must have exactly one key, got %d", len(obj))
	}
	for majorTag, payload := range obj {
		parsed, err := kindFromWire(majorTag, payload)
		if err != nil {
			return err
		}
		*k = parsed
	}
	return nil
}

func kindFromWire(majorTag string, payload wireKindPayload) (EventKind, error) {
	switch majorTag {
	case "access":
		switch payload.Kind {
		case "read":
			return KindAccessRead(), nil
		case "open":
			return KindAccessOpen(parseMode(payload.Mode)), nil
		case "close":
			return KindAccessClose(parseMode(payload.Mode)), nil
		case "other":
			return KindAccessOther(), nil
		default:
			return KindAccessAny(), nil
		}
	case "create":
		switch payload.Kind {
		case "file":
			return KindCreateFile(), nil
		case "folder":
			return KindCreateFolder(), nil
		case "other":
			return KindCreateOther(), nil
		default:
			return KindCreateAny(), nil
		}
	case "modify":
		switch payload.Kind {
		case "data":
			return KindModifyData(parseDataChange(payload.Mode)), nil
		case "metadata":
			return KindModifyMetadata(parseMetadataKind(payload.Mode)), nil
		case "other":
			return KindModifyOther(), nil
		default:
			return KindModifyAny(), nil
		}
	case "rename":
		return KindModifyName(parseRenameMode(payload.Mode)), nil
	case "remove":
		switch payload.Kind {
		case "file":
			return KindRemoveFile(), nil
		case "folder":
			return KindRemoveFolder(), nil
		case "other":
			return KindRemoveOther(), nil
		default:
			return KindRemoveAny(), nil
		}
	default:
		return EventKind{}, fmt.Errorf("notify: unknown event kind tag %q", majorTag)
	}
}

func parseMode(s string) Mode {
	switch s {
	case "execute":
		return ModeExecute
	case "read":
		return ModeRead
	case "write":
		return ModeWrite
	case "other":
		return ModeOther
	default:
		return ModeAny
	}
}

func parseDataChange(s string) DataChange {
	switch s {
	case "size":
		return DataSize
	case "content":
		return DataContent
	case "other":
		return DataOther
	default:
		return DataAny
	}
}

func parseMetadataKind(s string) MetadataKind {
	switch s {
	case "access-time":
		return MetaAccessTime
	case "write-time":
		return MetaWriteTime
	case "permissions":
		return MetaPermissions
	case "ownership":
		return MetaOwnership
	case "extended":
		return MetaExtended
	case "other":
		return MetaOther
	default:
		return MetaAny
	}
}

func parseRenameMode(s string) RenameMode {
	switch s {
	case "from":
		return RenameFrom
	case "to":
		return RenameTo
	case "both":
		return RenameBoth
	case "other":
		return RenameOther
	default:
		return RenameAny
	}
}

// wireAttrs is the on-the-wire shape of EventAttributes; zero-value fields
// are simply omitted rather than emitted as null/zero.
type wireAttrs struct {
	Tracker *uint32 `json:"tracker,omitempty"`
	Flag    string  `json:"flag,omitempty"`
	Info    string  `json:"info,omitempty"`
	Source  string  `json:"source,omitempty"`
}

// wireEvent is the on-the-wire shape of an Event: its kind lives under the
// top-level "type" key, per SPEC_FULL §6.
type wireEvent struct {
	Type  EventKind `json:"type"`
	Paths []string  `json:"paths"`
	Attrs wireAttrs `json:"attrs"`
}

// MarshalJSON renders e per SPEC_FULL's external-interfaces JSON shape.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type:  e.Kind,
		Paths: e.Paths,
		Attrs: wireAttrs{
			Tracker: e.Attrs.Tracker,
			Info:    e.Attrs.Info,
			Source:  e.Attrs.Source,
		},
	}
	if e.Attrs.Flag != FlagNone {
		w.Attrs.Flag = e.Attrs.Flag.String()
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the shape produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	attrs := EventAttributes{
		Tracker: w.Attrs.Tracker,
		Info:    w.Attrs.Info,
		Source:  w.Attrs.Source,
	}
	switch w.Attrs.Flag {
	case "rescan":
		attrs.Flag = FlagRescan
	case "ongoing":
		attrs.Flag = FlagOngoing
	}
	*e = Event{Kind: w.Type, Paths: w.Paths, Attrs: attrs}
	return nil
}
