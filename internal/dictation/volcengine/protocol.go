package volcengine

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion 火山引擎 SAUC 二进制协议版本
const ProtocolVersion = 0b0001

// MessageType 消息类型
type MessageType uint8

const (
	// FullClientRequest 携带识别参数的首包
	FullClientRequest MessageType = 0b0001
	// AudioOnlyRequest 只包含音频数据的请求
	AudioOnlyRequest MessageType = 0b0010
	// FullServerResponse 服务端识别结果
	FullServerResponse MessageType = 0b1001
	// ErrorMessage 服务端错误消息
	ErrorMessage MessageType = 0b1111
)

// MessageFlags 决定 header 之后是否跟随 sequence。
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	// LastPacketNoSequence 最后一包，不带 sequence
	LastPacketNoSequence MessageFlags = 0b0010
	// NegativeSequenceNumber 最后一包，sequence 取负
	NegativeSequenceNumber MessageFlags = 0b0011
)

// SerializationMethod 序列化方法
type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod 压缩方法
type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// Header 4 字节消息头，每个字段占 4 bit（Reserved 占 8 bit）。
type Header struct {
	ProtocolVersion     uint8
	HeaderSize          uint8
	MessageType         MessageType
	MessageFlags        MessageFlags
	SerializationMethod SerializationMethod
	CompressionMethod   CompressionMethod
	Reserved            uint8
}

// Message 一帧 websocket 二进制消息。
type Message struct {
	Header      Header
	Sequence    int32
	ErrorCode   uint32
	PayloadSize uint32
	Payload     []byte
}

// NewHeader 创建 4 字节头。
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		ProtocolVersion:     ProtocolVersion,
		HeaderSize:          0b0001,
		MessageType:         msgType,
		MessageFlags:        flags,
		SerializationMethod: serialization,
		CompressionMethod:   compression,
	}
}

// Encode 编码消息头为 4 字节
func (h Header) Encode() []byte {
	return []byte{
		(h.ProtocolVersion << 4) | h.HeaderSize,
		(uint8(h.MessageType) << 4) | uint8(h.MessageFlags),
		(uint8(h.SerializationMethod) << 4) | uint8(h.CompressionMethod),
		h.Reserved,
	}
}

// DecodeHeader 从 4 字节解码消息头
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < 4 {
		return Header{}, fmt.Errorf("header data too short: got %d, need 4", len(data))
	}

	header := Header{
		ProtocolVersion:     (data[0] >> 4) & 0x0F,
		HeaderSize:          data[0] & 0x0F,
		MessageType:         MessageType((data[1] >> 4) & 0x0F),
		MessageFlags:        MessageFlags(data[1] & 0x0F),
		SerializationMethod: SerializationMethod((data[2] >> 4) & 0x0F),
		CompressionMethod:   CompressionMethod(data[2] & 0x0F),
		Reserved:            data[3],
	}
	if header.ProtocolVersion != ProtocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version: %d", header.ProtocolVersion)
	}
	return header, nil
}

func (m *Message) hasSequence() bool {
	switch m.Header.MessageFlags {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		return true
	default:
		return false
	}
}

// IsLastPacket 判断是否为最后一包
func (m *Message) IsLastPacket() bool {
	switch m.Header.MessageFlags {
	case LastPacketNoSequence, NegativeSequenceNumber:
		return true
	default:
		return false
	}
}

// EncodeMessage 编码完整消息：header、可选 sequence、可选错误码、payload size、payload。
func EncodeMessage(msg *Message) []byte {
	buf := bytes.NewBuffer(msg.Header.Encode())
	word := make([]byte, 4)

	if msg.hasSequence() {
		binary.BigEndian.PutUint32(word, uint32(msg.Sequence))
		buf.Write(word)
	}
	if msg.Header.MessageType == ErrorMessage {
		binary.BigEndian.PutUint32(word, msg.ErrorCode)
		buf.Write(word)
	}

	binary.BigEndian.PutUint32(word, uint32(len(msg.Payload)))
	buf.Write(word)
	buf.Write(msg.Payload)
	return buf.Bytes()
}

// DecodeMessage 解码完整消息
func DecodeMessage(reader io.Reader) (*Message, error) {
	headerBytes := make([]byte, 4)
	if _, err := io.ReadFull(reader, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	msg := &Message{Header: header}

	// header size 以 4 字节为单位，多出的部分是扩展头
	if extra := int(header.HeaderSize)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(extra)); err != nil {
			return nil, fmt.Errorf("failed to read extended header: %w", err)
		}
	}

	if msg.hasSequence() {
		var seq int32
		if err := binary.Read(reader, binary.BigEndian, &seq); err != nil {
			return nil, fmt.Errorf("failed to read sequence: %w", err)
		}
		msg.Sequence = seq
	}

	if header.MessageType == ErrorMessage {
		if err := binary.Read(reader, binary.BigEndian, &msg.ErrorCode); err != nil {
			return nil, fmt.Errorf("failed to read error code: %w", err)
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &msg.PayloadSize); err != nil {
		return nil, fmt.Errorf("failed to read payload size: %w", err)
	}

	if msg.PayloadSize > 0 {
		msg.Payload = make([]byte, msg.PayloadSize)
		if _, err := io.ReadFull(reader, msg.Payload); err != nil {
			return nil, fmt.Errorf("failed to read payload (expected %d bytes): %w", msg.PayloadSize, err)
		}
	}
	return msg, nil
}

// NewFullClientRequest 创建携带识别参数的首包
func NewFullClientRequest(payload []byte) *Message {
	return &Message{
		Header:      NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, GzipCompression),
		PayloadSize: uint32(len(payload)),
		Payload:     payload,
	}
}

// NewAudioOnlyRequest 创建音频包。最后一包的 sequence 取负。
func NewAudioOnlyRequest(audio []byte, sequence int32, isLast bool) *Message {
	flags := PositiveSequenceNumber
	if isLast {
		flags = NegativeSequenceNumber
		sequence = -sequence
	}
	return &Message{
		Header:      NewHeader(AudioOnlyRequest, flags, NoSerialization, GzipCompression),
		Sequence:    sequence,
		PayloadSize: uint32(len(audio)),
		Payload:     audio,
	}
}

// CompressPayload 压缩 payload
func CompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		writer := gzip.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			writer.Close()
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}

// DecompressPayload 解压 payload
func DecompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		if len(data) == 0 {
			return nil, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		defer reader.Close()

		result, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip read failed: %w", err)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}
