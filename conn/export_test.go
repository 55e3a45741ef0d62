package conn

import "weak"

// AcceptorRef exposes the weak reference accepted peers hold.
func AcceptorRef(a *Acceptor) weak.Pointer[Acceptor] { return a.self }
