package dbc

func NewDatabase() *Database {
	return &Database{index: make(map[uint32]int)}
}

// Reindex rebuilds the id index. Call it after editing Messages directly;
// AddMessage, RemoveMessage and LoadFromImport keep the index current.
func (d *Database) Reindex() {
	d.index = make(map[uint32]int, len(d.Messages))
	for i, msg := range d.Messages {
		d.index[msg.ID] = i
	}
}

// Message returns the message with the given id or nil.
func (d *Database) Message(id uint32) *Message {
	if i, ok := d.index[id]; ok && i < len(d.Messages) && d.Messages[i].ID == id {
		return d.Messages[i]
	}
	return nil
}

func (d *Database) MessageByName(name string) *Message {
	for _, msg := range d.Messages {
		if msg.Name == name {
			return msg
		}
	}
	return nil
}

// AddMessage appends msg; a message with the same id is replaced in place.
func (d *Database) AddMessage(msg *Message) {
	if msg == nil {
		return
	}
	if d.index == nil {
		d.Reindex()
	}
	if d.Message(msg.ID) != nil {
		d.Messages[d.index[msg.ID]] = msg
		return
	}
	d.Messages = append(d.Messages, msg)
	d.index[msg.ID] = len(d.Messages) - 1
}

// RemoveMessage removes and returns the message with the given id, or nil.
func (d *Database) RemoveMessage(id uint32) *Message {
	msg := d.Message(id)
	if msg == nil {
		return nil
	}
	i := d.index[id]
	d.Messages = append(d.Messages[:i], d.Messages[i+1:]...)
	d.Reindex()
	return msg
}

// AddNode appends name unless it is empty, the placeholder, or already known.
func (d *Database) AddNode(name string) {
	if name == "" || name == PlaceholderNode {
		return
	}
	for _, n := range d.Nodes {
		if n == name {
			return
		}
	}
	d.Nodes = append(d.Nodes, name)
}

func (d *Database) SignalCount() int {
	n := 0
	for _, msg := range d.Messages {
		n += len(msg.Signals)
	}
	return n
}

// InferBusType derives the bus type from message types and lengths.
func (d *Database) InferBusType() string {
	for _, msg := range d.Messages {
		if msg.IsFD() || msg.Length > 8 {
			return "CAN FD"
		}
	}
	return "CAN"
}

// LoadFromImport replaces the database content with result and takes ownership
// of its messages; result.Messages is left empty.
func (d *Database) LoadFromImport(result *ImportResult) {
	*d = Database{
		Version:       result.Version,
		BusType:       result.BusType,
		DocumentTitle: result.DocumentTitle,
		ChangeHistory: result.ChangeHistory,
		Nodes:         result.Nodes,
		Messages:      result.Messages,
	}
	result.Messages = nil
	result.ChangeHistory = nil
	result.Nodes = nil
	d.Reindex()
}

func (d *Database) Clone() *Database {
	c := &Database{
		Version:       d.Version,
		BusType:       d.BusType,
		DocumentTitle: d.DocumentTitle,
	}
	if d.Nodes != nil {
		c.Nodes = append([]string(nil), d.Nodes...)
	}
	if d.ChangeHistory != nil {
		c.ChangeHistory = append([]ChangeHistoryEntry(nil), d.ChangeHistory...)
	}
	for _, msg := range d.Messages {
		c.Messages = append(c.Messages, msg.Clone())
	}
	for _, vt := range d.GlobalValueTables {
		values := make(map[int64]string, len(vt.Values))
		for k, v := range vt.Values {
			values[k] = v
		}
		c.GlobalValueTables = append(c.GlobalValueTables, ValueTable{Name: vt.Name, Values: values})
	}
	c.Reindex()
	return c
}
