package protocol

import "Go2FlowSpectra/internal/model"

// srcIDWidth is the number of wire bytes occupied by each source-id encoding.
func srcIDWidth(t model.SrcIDType) int {
	switch t {
	case model.SrcIDInt, model.SrcIDIPv4, model.SrcIDString:
		return 4
	case model.SrcIDEther:
		return 8
	case model.SrcIDIPv6, model.SrcIDUUID:
		return 16
	}
	return 0
}

func decodeTransport(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	t := rec.UseTransport()
	typ := model.SrcIDType(h.Qualifier & transportType)
	sub := h.Subtype

	if st.hdr.Version < VersionCurrent {
		sub |= transportSrcID | transportSeq
		if typ == model.SrcIDNone {
			typ = model.SrcIDIPv4
		}
	}

	if sub&transportSrcID != 0 {
		w := srcIDWidth(typ)
		if w == 0 {
			rec.Drop(model.IdxTransport)
			return errSkipDSR
		}
		t.Flags |= model.TransportSrcID
		t.SrcIDType = typ
		c.copyTo(t.SrcID[:w])
		if typ == model.SrcIDEther {
			// the ethernet id sits in an 8 byte slot; only 6 bytes are meaningful
			t.SrcID[6], t.SrcID[7] = 0, 0
		}
	}
	if h.Qualifier&transportInf != 0 {
		t.Flags |= model.TransportInf
		c.copyTo(t.Inf[:])
	}
	if sub&transportSeq != 0 {
		t.Flags |= model.TransportSeq
		t.Seq = c.u32()
	}
	return nil
}

func encodeTransport(rec *model.Record, w *writer) (subtype, qualifier uint8) {
	t := rec.Transport
	if t.Flags&model.TransportSrcID != 0 {
		if n := srcIDWidth(t.SrcIDType); n > 0 {
			subtype |= transportSrcID
			qualifier |= uint8(t.SrcIDType) & transportType
			w.bytes(t.SrcID[:n])
		}
	}
	if t.Flags&model.TransportInf != 0 {
		qualifier |= transportInf
		w.bytes(t.Inf[:])
	}
	if t.Flags&model.TransportSeq != 0 {
		subtype |= transportSeq
		w.u32(t.Seq)
	}
	return subtype, qualifier
}
