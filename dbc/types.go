package dbc

// ByteOrder 信号的字节顺序，取值与DBC文件中 @0 / @1 一致
type ByteOrder int

const (
	Motorola ByteOrder = iota // big-endian, startBit 为 MSB
	Intel                     // little-endian, startBit 为 LSB
)

func (o ByteOrder) String() string {
	switch o {
	case Motorola:
		return "Motorola"
	case Intel:
		return "Intel"
	default:
		return "unknown"
	}
}

// Vector__XXX 是DBC中"无节点"的占位名
const PlaceholderNode = "Vector__XXX"

type Signal struct {
	/**
	* 信号的名字, 在所属报文内唯一
	 */
	Name string
	/**
	* 信号起始位, 含义取决于字节顺序
	 */
	StartBit int
	/**
	* 信号长度(bit)
	 */
	Length int
	/**
	* 信号的字节顺序
	 */
	ByteOrder ByteOrder
	/**
	* 信号的数值类型：true 有符号, false 无符号
	 */
	Signed bool
	/**
	* 因子, 偏移量
	* 物理值=原始值*因子+偏移量；
	 */
	Factor float64
	Offset float64
	/**
	* 物理最小值, 最大值
	 */
	Min float64
	Max float64
	/**
	* 总线最小值/最大值(Hex), 仅在显式给出时有效 (如Excel导入)
	 */
	RawMin      float64
	RawMax      float64
	HasRawRange bool
	/**
	* 初始值, 输出时按原始值(Hex)解释
	 */
	InitialValue float64
	/**
	* 无效值/非使能值(Hex), 自由文本
	 */
	InvalidValueHex  string
	InactiveValueHex string
	Unit             string
	/**
	* 注解里面的描述
	 */
	Description string
	SendType    string
	/**
	* 信号的接收节点
	 */
	Receivers []string
	/**
	* val参数, 原始值 -> 描述
	 */
	ValueTable map[int64]string
}

type Message struct {
	/**
	* 报文id
	 */
	ID uint32
	/**
	* 报文的名字
	 */
	Name string
	/**
	* 报文长度(字节)
	 */
	Length int
	/**
	* 报文发送节点
	 */
	Transmitter string
	/**
	* 报文接收节点, 来自 BO_TX_BU_
	 */
	Receivers []string

	CycleTime       int
	CycleTimeFast   int
	NrOfRepetitions int
	DelayTime       int
	SendType        string
	/**
	* DBC帧格式 (StandardCAN ...) 和Excel使用的报文类型 (CAN Standard ...)
	 */
	FrameFormat string
	MessageType string
	Comment     string
	/**
	* 下级信号, 按DBC文件内信号顺序存放
	 */
	Signals []*Signal
}

type ValueTable struct {
	/**
	* 全局数值表名称
	 */
	Name   string
	Values map[int64]string
}

type ChangeHistoryEntry struct {
	SerialNumber    string
	ProtocolVersion string
	ChangeContent   string
	Changer         string
	ChangeDate      string
	Reviewer        string
}

// ImportResult is a Database-shaped result handed over by an external importer.
type ImportResult struct {
	Version       string
	BusType       string
	DocumentTitle string
	ChangeHistory []ChangeHistoryEntry
	Nodes         []string
	Messages      []*Message
}

type Database struct {
	/**
	* 版本
	 */
	Version string
	BusType string
	/**
	* 网络节点
	 */
	Nodes []string
	/**
	* 报文帧定义, 按声明顺序
	 */
	Messages []*Message
	/**
	* 全局信号值
	 */
	GlobalValueTables []ValueTable
	/**
	* 仅用于输出保真, 不做解释
	 */
	DocumentTitle string
	ChangeHistory []ChangeHistoryEntry

	index map[uint32]int
}

// ValidationResult 校验结果
type ValidationResult struct {
	OK     bool
	Errors []string
}
