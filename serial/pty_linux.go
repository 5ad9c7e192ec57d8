package serial

// OpenPTY allocates a pseudoterminal pair. It backs the loopback harness
// used by the USB transport's tests: the slave end is opened exactly like a
// real ZeDMD device node, while the test drives the master end to play the
// firmware's side of the handshake and flow-control protocol.
func OpenPTY(termp *Termios) (master *Port, slave *Port, err error) {
	master, err = Open("/dev/ptmx", NewOptions())
	if err != nil {
		return nil, nil, err
	}
	if err := master.SetLockPT(false); err != nil {
		master.Close()
		return nil, nil, err
	}
	slave, err = master.GetPTPeer(0)
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	if termp != nil {
		if err := slave.SetAttr(TCSANOW, termp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}
	return master, slave, nil
}
