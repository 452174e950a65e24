package otg

// Core global registers.
const (
	regGAHBCFG  = 0x008 // AHB configuration (RW)
	regGINTSTS  = 0x014 // core interrupt status (RW1C)
	regGINTMSK  = 0x018 // core interrupt mask (RW)
	regGSNPSID  = 0x040 // core identification, upper half 0x4F54 (R)
	regGHWCFG2  = 0x048 // hardware configuration 2 (R)
	regHFNUM    = 0x408 // host frame number (R)
	regHAINT    = 0x414 // host all channels interrupt (R)
	regHAINTMSK = 0x418 // host all channels interrupt mask (RW)
	regHPRT     = 0x440 // host port control and status (RW, some RW1C)
)

// Per-channel registers, at regChannelBase + n*regChannelStride.
const (
	regChannelBase   = 0x500
	regChannelStride = 0x20

	regHCCHAR   = 0x00 // characteristics (RW)
	regHCSPLT   = 0x04 // split control (RW)
	regHCINT    = 0x08 // interrupt (RW1C)
	regHCINTMSK = 0x0c // interrupt mask (RW)
	regHCTSIZ   = 0x10 // transfer size (RW)
	regHCDMA    = 0x14 // DMA address (RW)
)

const coreID = 0x4f54 // GSNPSID[31:16]

// GAHBCFG bits.
const (
	gahbcfgGlblIntrMsk = 1 << 0
	gahbcfgDMAEn       = 1 << 5
)

// GINTSTS / GINTMSK bits.
const (
	gintSOF   = 1 << 3
	gintHCInt = 1 << 25
)

// GHWCFG2 fields.
const (
	ghwcfg2NumHstChnlShift = 14
	ghwcfg2NumHstChnlMask  = 0xf
)

const hfnumFrameMask = 0x3fff

// HPRT fields.
const (
	hprtPrtEna      = 1 << 2
	hprtPrtSpdShift = 17
	hprtPrtSpdMask  = 0x3

	hprtSpdHigh = 0
	hprtSpdFull = 1
	hprtSpdLow  = 2
)

// HCCHAR fields.
const (
	hccharMPSMask      = 0x7ff
	hccharEPNumShift   = 11
	hccharEPDir        = 1 << 15
	hccharLSpdDev      = 1 << 17
	hccharEPTypeShift  = 18
	hccharMCShift      = 20
	hccharDevAddrShift = 22
	hccharOddFrm       = 1 << 29
	hccharChDis        = 1 << 30
	hccharChEna        = 1 << 31
)

// HCCHAR endpoint types.
const (
	epTypeControl   = 0
	epTypeBulk      = 2
	epTypeInterrupt = 3
)

// HCSPLT fields.
const (
	hcspltHubAddrShift = 7
	hcspltSpltEna      = 1 << 31
)

// HCINT bits.
const (
	hcintXferCompl  = 1 << 0
	hcintChHltd     = 1 << 1
	hcintAHBErr     = 1 << 2
	hcintStall      = 1 << 3
	hcintNAK        = 1 << 4
	hcintACK        = 1 << 5
	hcintNYET       = 1 << 6
	hcintXactErr    = 1 << 7
	hcintBblErr     = 1 << 8
	hcintFrmOvrun   = 1 << 9
	hcintDataTglErr = 1 << 10

	hcintDefaultMask = hcintXferCompl | hcintChHltd | hcintAHBErr | hcintStall |
		hcintNAK | hcintXactErr | hcintBblErr | hcintFrmOvrun | hcintDataTglErr
)

// HCTSIZ fields.
const (
	hctsizXferSizeMask = 0x7ffff
	hctsizPktCntShift  = 19
	hctsizPktCntMask   = 0x3ff
	hctsizPIDShift     = 29
	hctsizPIDMask      = 0x3
)

// Packet identifiers as encoded in HCTSIZ.
const (
	pidData0 = 0
	pidData2 = 1
	pidData1 = 2
	pidSetup = 3
)

func channelReg(ch int, reg uint32) uint32 {
	return regChannelBase + uint32(ch)*regChannelStride + reg
}
