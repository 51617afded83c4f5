package nrf24

// SPI commands
const (
	cmdReadRegister  = 0x00
	cmdWriteRegister = 0x20
	cmdReadPayload   = 0x61
	cmdReadWidth     = 0x60
	cmdFlushTX       = 0xE1
	cmdFlushRX       = 0xE2
	cmdNOP           = 0xFF

	registerMask = 0x1F
)

// Registers
const (
	regConfig     = 0x00
	regEnAA       = 0x01
	regEnRxAddr   = 0x02
	regSetupAW    = 0x03
	regRFChannel  = 0x05
	regRFSetup    = 0x06
	regStatus     = 0x07
	regRxAddrP0   = 0x0A
	regRxAddrP1   = 0x0B
	regFIFOStatus = 0x17
	regDynPD      = 0x1C
	regFeature    = 0x1D
)

// CONFIG bits
const (
	configPrimRX = 1 << 0
	configPwrUp  = 1 << 1
	configCRCO   = 1 << 2
	configEnCRC  = 1 << 3
)

// STATUS bits
const (
	statusMaxRT    = 1 << 4
	statusTxDS     = 1 << 5
	statusRxDR     = 1 << 6
	statusPipeMask = 0x0E
	pipeEmpty      = 0x07
)

// RF_SETUP bits
const (
	rfSetupDRHigh = 1 << 3
	rfSetupDRLow  = 1 << 5
	rfSetupPwrPos = 1
)

const (
	fifoRxEmpty   = 1 << 0
	featureEnDPL  = 1 << 2
	maxPayload    = 32
	maxRFChannel  = 125
	maxPipeNumber = 5
)
