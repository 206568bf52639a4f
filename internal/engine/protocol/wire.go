package protocol

import "Go2FlowSpectra/internal/model"

// Current wire version written by the encoder.
const (
	VersionCurrent = 5
	VersionMin     = 3
)

// DSR header type byte flags.
const (
	dsrImmediate = 0x80
	dsrWide      = 0x40
	dsrCodeMask  = 0x3F
)

// Wire DSR codes.
const (
	CodeFlow        uint8 = 1
	CodeTransport   uint8 = 2
	CodeTime        uint8 = 3
	CodeMetric      uint8 = 4
	CodeNetwork     uint8 = 5
	CodeMAC         uint8 = 6
	CodeVLAN        uint8 = 7
	CodeMPLS        uint8 = 8
	CodeICMP        uint8 = 9
	CodeIPAttr      uint8 = 10
	CodePSize       uint8 = 11
	CodeJitter      uint8 = 12
	CodeAgr         uint8 = 13
	CodeSrcUser     uint8 = 14
	CodeDstUser     uint8 = 15
	CodeCorrelate   uint8 = 16
	CodeASN         uint8 = 17
	CodeBehavior    uint8 = 18
	CodeScore       uint8 = 19
	CodeCountryCode uint8 = 20
	CodeLabel       uint8 = 21
	CodeEncaps      uint8 = 22
	CodeGRE         uint8 = 23
	CodeGeneve      uint8 = 24
	CodeNetspatial  uint8 = 25
)

// codeOf maps canonical slots to wire codes.
var codeOf = [model.NumSlots]uint8{
	model.IdxFlow:        CodeFlow,
	model.IdxTransport:   CodeTransport,
	model.IdxTime:        CodeTime,
	model.IdxMetric:      CodeMetric,
	model.IdxAgr:         CodeAgr,
	model.IdxNetwork:     CodeNetwork,
	model.IdxMAC:         CodeMAC,
	model.IdxVLAN:        CodeVLAN,
	model.IdxMPLS:        CodeMPLS,
	model.IdxICMP:        CodeICMP,
	model.IdxIPAttr:      CodeIPAttr,
	model.IdxPSize:       CodePSize,
	model.IdxJitter:      CodeJitter,
	model.IdxSrcUser:     CodeSrcUser,
	model.IdxDstUser:     CodeDstUser,
	model.IdxCorrelate:   CodeCorrelate,
	model.IdxASN:         CodeASN,
	model.IdxBehavior:    CodeBehavior,
	model.IdxScore:       CodeScore,
	model.IdxCountryCode: CodeCountryCode,
	model.IdxLabel:       CodeLabel,
	model.IdxEncaps:      CodeEncaps,
	model.IdxGRE:         CodeGRE,
	model.IdxGeneve:      CodeGeneve,
	model.IdxNetspatial:  CodeNetspatial,
}

// Flow DSR subtype and qualifier bits.
const (
	flowReverse  = 0x80
	flowKindMask = 0x3F
	flowMaskLen  = 0x20
	flowFamily   = 0x0F
)

// Transport DSR bits.
const (
	transportSrcID = 0x01
	transportSeq   = 0x02
	transportInf   = 0x10
	transportType  = 0x0F
)

// Time DSR bits.
const (
	timeEncodingMask = 0x07
	timeFieldShift   = 3
	timeNanoseconds  = 0x01
)

// Metric encodings.
const (
	metricSrcDstByte  = 1
	metricSrcDstShort = 2
	metricSrcDstInt   = 3
	metricSrcDstLong  = 4
	metricSrcShort    = 5
	metricSrcInt      = 6
	metricSrcLong     = 7
	metricDstShort    = 8
	metricDstInt      = 9
	metricDstLong     = 10

	metricAppBytes = 0x01
)

// Network DSR subtypes.
const (
	netLegacy    = 0
	netTCPInit   = 1
	netTCPStatus = 2
	netTCPPerf   = 3
	netRTP       = 4
	netRTCP      = 5
	netUDT       = 6
	netESP       = 7

	netTCPv2 = 0x01
)

// Payload sizes of fixed layouts, in bytes.
const (
	sizeTCPInit   = 16
	sizeTCPStatus = 4
	sizeTCPPerfV1 = 56
	sizeTCPPerfV2 = 96
	sizeStats     = 20
	sizeHist      = 8
	sizeCorrelate = 24
)
