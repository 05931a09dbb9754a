package schema

// Client-config projections. These are the JSON shapes served to the UI:
// everything the client needs to render forms, nothing it must not learn
// (answers to anti-spam questions, hashing parameters of hidden fields on
// views the caller cannot read).

// FieldConfig is the client-facing description of one field.
type FieldConfig struct {
	Key           string       `json:"key"`
	Type          FieldType    `json:"type"`
	Title         string       `json:"title"`
	Required      bool         `json:"required"`
	Readable      bool         `json:"readable"`
	Writable      bool         `json:"writable"`
	Creatable     bool         `json:"creatable"`
	Hidden        bool         `json:"hidden,omitempty"`
	Format        string       `json:"format,omitempty"`
	FormatMessage string       `json:"formatMessage,omitempty"`
	Enum          []EnumValue  `json:"enum,omitempty"`
	AutoGenerate  bool         `json:"autoGenerate,omitempty"`
	Verify        bool         `json:"verify,omitempty"`
	ForeignView   string       `json:"foreignView,omitempty"`
	Target        *FieldConfig `json:"target,omitempty"`
}

// GroupConfig is the client-facing description of one projection group.
type GroupConfig struct {
	Key         string        `json:"key"`
	Type        GroupType     `json:"type"`
	Title       string        `json:"title"`
	Fields      []FieldConfig `json:"fields,omitempty"`
	ForeignView string        `json:"foreignView,omitempty"`
}

// ViewConfig is the client-facing description of a view for authenticated
// callers.
type ViewConfig struct {
	Key         string        `json:"key"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	IconClasses string        `json:"iconClasses,omitempty"`
	PrimaryKey  string        `json:"primaryKey"`
	Permissions []string      `json:"permissions,omitempty"`
	List        []FieldConfig `json:"list"`
	Details     []GroupConfig `json:"details,omitempty"`
	Self        []GroupConfig `json:"self,omitempty"`
}

// RegisterConfig is the unauthenticated projection of the registration view.
type RegisterConfig struct {
	Key         string        `json:"key"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	PrimaryKey  string        `json:"primaryKey"`
	Register    []GroupConfig `json:"register"`
}

func clientField(def *FieldDef) FieldConfig {
	out := FieldConfig{
		Key:           def.Key,
		Type:          def.Type,
		Title:         def.Title,
		Required:      def.Required,
		Readable:      def.Readable,
		Writable:      def.Writable,
		Creatable:     def.Creatable,
		Hidden:        def.Hidden,
		FormatMessage: def.FormatMessage,
		Enum:          def.Enum,
		AutoGenerate:  def.AutoGenerate,
		Verify:        def.Verify,
		ForeignView:   def.ForeignView,
	}
	// Generate templates reference store attributes; they are an input to
	// the server, not a client-side validation rule.
	if def.Type == TypeText {
		out.Format = def.Format
	}
	if def.Target != nil {
		target := clientField(def.Target)
		out.Target = &target
	}
	return out
}

func clientFields(defs []*FieldDef) []FieldConfig {
	out := make([]FieldConfig, 0, len(defs))
	for _, def := range defs {
		out = append(out, clientField(def))
	}
	return out
}

func clientGroups(groups []*Group) []GroupConfig {
	out := make([]GroupConfig, 0, len(groups))
	for _, group := range groups {
		cfg := GroupConfig{
			Key:         group.Key,
			Type:        group.Type,
			Title:       group.Title,
			ForeignView: group.ForeignView,
		}
		if group.Type == GroupFields {
			cfg.Fields = clientFields(group.Fields)
		}
		out = append(out, cfg)
	}
	return out
}

// ClientConfig projects the view for an authenticated client.
func (v *View) ClientConfig() ViewConfig {
	return ViewConfig{
		Key:         v.Key,
		Title:       v.Title,
		Description: v.Description,
		IconClasses: v.IconClasses,
		PrimaryKey:  v.PrimaryKey,
		Permissions: v.Permissions,
		List:        clientFields(v.List),
		Details:     clientGroups(v.Details),
		Self:        clientGroups(v.Self),
	}
}

// PublicRegisterConfig projects the registration form for unauthenticated
// clients, or nil when the view declares no register projection.
func (v *View) PublicRegisterConfig() *RegisterConfig {
	if len(v.Register) == 0 {
		return nil
	}
	return &RegisterConfig{
		Key:         v.Key,
		Title:       v.Title,
		Description: v.Description,
		PrimaryKey:  v.PrimaryKey,
		Register:    clientGroups(v.Register),
	}
}
